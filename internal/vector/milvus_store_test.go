package vector

import (
	"errors"
	"testing"

	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFields(t *testing.T) {
	fields := buildFields("vector", 1536)
	require.Len(t, fields, 4)
	assert.Equal(t, "id", fields[0].Name)
	assert.True(t, fields[0].PrimaryKey)
	assert.Equal(t, entity.FieldTypeFloatVector, fields[1].DataType)
	assert.Equal(t, "1536", fields[1].TypeParams["dim"])
	assert.Contains(t, describeFields(fields), "vector:")
	assert.Contains(t, describeFields(fields), "dim=1536")
}

func TestHitsFromResultOrdersByScoreThenID(t *testing.T) {
	res := milvus.SearchResult{
		ResultCount: 3,
		IDs:         entity.NewColumnVarChar("id", []string{"b", "a", "c"}),
		Fields:      []entity.Column{entity.NewColumnVarChar("text", []string{"tb", "ta", "tc"})},
		Scores:      []float32{0.9, 0.9, 0.95},
	}
	hits, err := hitsFromResult(res)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.Equal(t, []string{"tc", "ta", "tb"}, Texts(hits))
}

func TestHitsFromResultErrors(t *testing.T) {
	_, err := hitsFromResult(milvus.SearchResult{Err: errors.New("boom")})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = hitsFromResult(milvus.SearchResult{
		IDs:    entity.NewColumnVarChar("id", []string{"a"}),
		Scores: []float32{1},
	})
	assert.Error(t, err)

	hits, err := hitsFromResult(milvus.SearchResult{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchParamIsCopied(t *testing.T) {
	sp := milvusSearchParam{"ef": 64}
	params := sp.Params()
	params["ef"] = 1
	assert.Equal(t, 64, sp.Params()["ef"])
	sp.AddRadius(0.2)
	sp.AddRangeFilter(0.9)
	assert.Equal(t, 0.2, sp.Params()["radius"])
	assert.Equal(t, 0.9, sp.Params()["range_filter"])
}
