package vector

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, text string, vec ...float32) models.VectorRecord {
	return models.NewVectorRecord(models.AssetDocument{ID: id, Text: text}, vec)
}

func TestMemoryStoreEnsureCollection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.EnsureCollection(ctx, "assets", 3))
	require.NoError(t, s.EnsureCollection(ctx, "assets", 3))

	err := s.EnsureCollection(ctx, "assets", 4)
	assert.ErrorIs(t, err, ErrSchemaConflict)
	assert.True(t, IsFatal(err))

	assert.ErrorIs(t, s.EnsureCollection(ctx, "bad name;", 3), ErrSchemaConflict)
}

func TestMemoryStoreEnsureCollectionConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureCollection(ctx, "assets", 3)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMemoryStoreUpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "assets", 2))

	require.NoError(t, s.Upsert(ctx, "assets", []models.VectorRecord{rec("1", "old", 1, 0)}))
	require.NoError(t, s.Upsert(ctx, "assets", []models.VectorRecord{rec("1", "new", 0, 1)}))

	assert.Equal(t, 1, s.Count("assets"))
	got, ok := s.Get("assets", "1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text())
	assert.Equal(t, []float32{0, 1}, got.Vector)
}

func TestMemoryStoreUpsertRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "assets", 2))

	err := s.Upsert(ctx, "assets", []models.VectorRecord{rec("1", "ok", 1, 0), rec("2", "bad", 1, 0, 0)})
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, 0, s.Count("assets"), "a failed batch must not be partially applied")

	err = s.Upsert(ctx, "missing", []models.VectorRecord{rec("1", "ok", 1, 0)})
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	hits, err := s.Search(ctx, "assets", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "missing collection is not an error")

	require.NoError(t, s.EnsureCollection(ctx, "assets", 2))
	hits, err = s.Search(ctx, "assets", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Upsert(ctx, "assets", []models.VectorRecord{
		rec("far", "far", -1, 0),
		rec("near", "near", 1, 0),
		rec("mid", "mid", 1, 1),
	}))

	hits, err = s.Search(ctx, "assets", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, []string{"near", "mid"}, Texts(hits))

	// 没有阈值：集合不足 k 条时差的结果也返回
	hits, err = s.Search(ctx, "assets", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	assert.Equal(t, "far", hits[2].ID)
}

func TestMemoryStoreSearchDeterministic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "assets", 2))
	var batch []models.VectorRecord
	for i := 0; i < 20; i++ {
		batch = append(batch, rec(fmt.Sprintf("%02d", i), "same", 1, 1))
	}
	require.NoError(t, s.Upsert(ctx, "assets", batch))

	first, err := s.Search(ctx, "assets", []float32{1, 1}, 5)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Search(ctx, "assets", []float32{1, 1}, 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "00", first[0].ID)
}

func TestMemoryStoreStoredRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "assets", 2))
	r := rec("1", "text", 1, 0)
	require.NoError(t, s.Upsert(ctx, "assets", []models.VectorRecord{r}))
	r.Vector[0] = 42

	got, _ := s.Get("assets", "1")
	assert.Equal(t, float32(1), got.Vector[0])
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.EnsureCollection(ctx, "assets", 2), ErrStoreUnavailable)
	assert.ErrorIs(t, s.EnsureCollection(ctx, "assets", 2), context.Canceled)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 1}))
}
