package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

const (
	milvusIDField       = "id"
	milvusTextField     = "text"
	milvusMetadataField = "metadata"

	milvusTextMaxLength = 8192
	// 按 rune 截断后 UTF-8 最多 4 字节，保证不超过 VarChar 上限
	milvusTextMaxRunes = milvusTextMaxLength / 4
	milvusShards       = int32(1)
	hnswM              = 16
	hnswEfConstruction = 200
)

// milvusSearchParam 直接透传 HNSW 搜索参数
type milvusSearchParam map[string]interface{}

func (sp milvusSearchParam) Params() map[string]interface{} {
	p := make(map[string]interface{}, len(sp))
	for k, v := range sp {
		p[k] = v
	}
	return p
}

func (sp milvusSearchParam) AddRadius(radius float64) {
	sp["radius"] = radius
}

func (sp milvusSearchParam) AddRangeFilter(rangeFilter float64) {
	sp["range_filter"] = rangeFilter
}

// NewMilvusClient 建立带 otelgrpc 链路追踪的 Milvus 连接
func NewMilvusClient(ctx context.Context, addr, username, password string) (milvus.Client, error) {
	cli, err := milvus.NewClient(ctx, milvus.Config{
		Address:  addr,
		Username: username,
		Password: password,
		DialOptions: []grpc.DialOption{
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect milvus %s: %w", ErrStoreUnavailable, addr, err)
	}
	return cli, nil
}

// MilvusStore 基于 Milvus 的向量库实现：id 为 VarChar 主键，写入走 Upsert 保证按 ID 覆盖
type MilvusStore struct {
	client      milvus.Client
	vectorField string
	searchEf    int
	loaded      sync.Map
}

func NewMilvusStore(cli milvus.Client, vectorField string, searchEf int) *MilvusStore {
	if vectorField == "" {
		vectorField = "vector"
	}
	if searchEf <= 0 {
		searchEf = 64
	}
	return &MilvusStore{client: cli, vectorField: vectorField, searchEf: searchEf}
}

func (s *MilvusStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	has, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: has collection %s: %w", ErrStoreUnavailable, name, err)
	}
	if !has {
		if err := s.createCollection(ctx, name, dimension); err != nil {
			// 并发的同步可能已抢先创建，再确认一次
			if again, herr := s.client.HasCollection(ctx, name); herr != nil || !again {
				return fmt.Errorf("%w: create collection %s: %w", ErrStoreUnavailable, name, err)
			}
		} else {
			logger.Info(ctx, "Milvus collection created", "collection", name, "dim", dimension, "metric", string(entity.COSINE))
		}
	}
	if err := s.checkDimension(ctx, name, dimension); err != nil {
		return err
	}
	// 建表成功但建索引失败时，下一轮在这里补建
	if err := s.ensureIndex(ctx, name); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("%w: load collection %s: %w", ErrStoreUnavailable, name, err)
	}
	s.loaded.Store(name, true)
	return nil
}

func (s *MilvusStore) createCollection(ctx context.Context, name string, dimension int) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    "asset knowledge documents",
		AutoID:         false,
		Fields:         buildFields(s.vectorField, dimension),
	}
	return s.client.CreateCollection(ctx, schema, milvusShards)
}

func (s *MilvusStore) ensureIndex(ctx context.Context, name string) error {
	indexes, err := s.client.DescribeIndex(ctx, name, s.vectorField)
	if err == nil && len(indexes) > 0 {
		return nil
	}
	idx, ierr := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
	if ierr != nil {
		return fmt.Errorf("%w: build index params: %w", ErrStoreUnavailable, ierr)
	}
	if cerr := s.client.CreateIndex(ctx, name, s.vectorField, idx, false); cerr != nil {
		return fmt.Errorf("%w: create index on %s.%s: %w", ErrStoreUnavailable, name, s.vectorField, cerr)
	}
	logger.Info(ctx, "Milvus index created", "collection", name, "field", s.vectorField, "index", string(entity.HNSW))
	return nil
}

func (s *MilvusStore) checkDimension(ctx context.Context, name string, dimension int) error {
	coll, err := s.client.DescribeCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: describe collection %s: %w", ErrStoreUnavailable, name, err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != s.vectorField {
			continue
		}
		if f.DataType != entity.FieldTypeFloatVector {
			return fmt.Errorf("%w: field %s in %s is %s, want FloatVector", ErrSchemaConflict, f.Name, name, f.DataType.String())
		}
		got, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return fmt.Errorf("%w: field %s in %s has unreadable dim %q", ErrSchemaConflict, f.Name, name, f.TypeParams["dim"])
		}
		if got != dimension {
			return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrSchemaConflict, name, got, dimension)
		}
		return nil
	}
	return fmt.Errorf("%w: collection %s has no vector field %s (fields: %s)", ErrSchemaConflict, name, s.vectorField, describeFields(coll.Schema.Fields))
}

func (s *MilvusStore) Upsert(ctx context.Context, name string, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	if err := checkDimensions(records, dim); err != nil {
		return err
	}

	n := len(records)
	ids := make([]string, n)
	texts := make([]string, n)
	vectors := make([][]float32, n)
	metadatas := make([][]byte, n)
	for i, r := range records {
		ids[i] = r.ID
		texts[i] = truncateText(ctx, r.ID, r.Text())
		vectors[i] = r.Vector
		meta := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			if k != models.PayloadTextKey {
				meta[k] = v
			}
		}
		b, err := sonic.Marshal(meta)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata for %s: %w", ErrWriteFailed, r.ID, err)
		}
		metadatas[i] = b
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnFloatVector(s.vectorField, dim, vectors),
		entity.NewColumnVarChar(milvusTextField, texts),
		entity.NewColumnJSONBytes(milvusMetadataField, metadatas),
	}
	if _, err := s.client.Upsert(ctx, name, "", columns...); err != nil {
		return fmt.Errorf("%w: upsert %d records into %s: %w", ErrWriteFailed, n, name, err)
	}
	if err := s.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrWriteFailed, name, err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if _, ok := s.loaded.Load(name); !ok {
		has, err := s.client.HasCollection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: has collection %s: %w", ErrStoreUnavailable, name, err)
		}
		if !has {
			return []Hit{}, nil
		}
		if err := s.client.LoadCollection(ctx, name, false); err != nil {
			return nil, fmt.Errorf("%w: load collection %s: %w", ErrStoreUnavailable, name, err)
		}
		s.loaded.Store(name, true)
	}

	sp := milvusSearchParam{"ef": max(s.searchEf, k)}
	results, err := s.client.Search(ctx, name, nil, "", []string{milvusTextField},
		[]entity.Vector{entity.FloatVector(query)}, s.vectorField, entity.COSINE, k, sp)
	if err != nil {
		s.loaded.Delete(name)
		// 集合被删除后视为空库
		if has, herr := s.client.HasCollection(ctx, name); herr == nil && !has {
			return []Hit{}, nil
		}
		return nil, fmt.Errorf("%w: search %s: %w", ErrStoreUnavailable, name, err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}
	return hitsFromResult(results[0])
}

func hitsFromResult(result milvus.SearchResult) ([]Hit, error) {
	if result.Err != nil {
		return nil, fmt.Errorf("%w: search result: %w", ErrStoreUnavailable, result.Err)
	}
	n := len(result.Scores)
	if n == 0 {
		return []Hit{}, nil
	}
	idCol, ok := result.IDs.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("unexpected id column type %T", result.IDs)
	}
	var textCol *entity.ColumnVarChar
	for _, col := range result.Fields {
		if col.Name() == milvusTextField {
			if c, ok := col.(*entity.ColumnVarChar); ok {
				textCol = c
			}
			break
		}
	}
	if textCol == nil {
		return nil, fmt.Errorf("text field missing from search output")
	}

	ids, texts := idCol.Data(), textCol.Data()
	hits := make([]Hit, 0, n)
	for i := 0; i < n && i < len(ids) && i < len(texts); i++ {
		hits = append(hits, Hit{ID: ids[i], Text: texts[i], Score: result.Scores[i]})
	}
	sortHits(hits)
	return hits, nil
}

// truncateText 超出 VarChar 上限的文本被截断，检索时返回的文本会短于原文
func truncateText(ctx context.Context, id, text string) string {
	out := TruncateToRunes(text, milvusTextMaxRunes)
	if len(out) != len(text) {
		logger.Warn(ctx, "Document text truncated for Milvus", "document_id", id, "max_runes", milvusTextMaxRunes)
	}
	return out
}

func buildFields(vectorField string, vectorDim int) []*entity.Field {
	id := &entity.Field{Name: milvusIDField, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "256"}, PrimaryKey: true}
	vector := &entity.Field{Name: vectorField, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(vectorDim)}}
	text := &entity.Field{Name: milvusTextField, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": strconv.Itoa(milvusTextMaxLength)}}
	metadata := &entity.Field{Name: milvusMetadataField, DataType: entity.FieldTypeJSON}
	return []*entity.Field{id, vector, text, metadata}
}

func describeFields(fields []*entity.Field) string {
	infos := make([]string, 0, len(fields))
	for _, f := range fields {
		tp := ""
		if f.TypeParams != nil {
			if dim, ok := f.TypeParams["dim"]; ok {
				tp = "dim=" + dim
			}
			if ml, ok := f.TypeParams["max_length"]; ok {
				if tp != "" {
					tp += ","
				}
				tp += "max_length=" + ml
			}
		}
		infos = append(infos, fmt.Sprintf("%s:%s(%s)", f.Name, f.DataType.String(), tp))
	}
	return strings.Join(infos, "; ")
}

// LogDiagnostics 启动时打印集合 schema，便于排查维度不一致
func (s *MilvusStore) LogDiagnostics(ctx context.Context, name string) {
	coll, err := s.client.DescribeCollection(ctx, name)
	if err != nil {
		logger.Warn(ctx, "DescribeCollection failed", "collection", name, "error", err.Error())
		return
	}
	logger.Info(ctx, "Milvus collection schema", "collection", name, "fields", describeFields(coll.Schema.Fields))
}
