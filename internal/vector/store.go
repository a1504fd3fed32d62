package vector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
)

// Store 向量库适配层。实现需保证 Upsert 与 Search 可并发调用
type Store interface {
	// EnsureCollection 不存在则按 cosine 度量创建；已存在且维度一致时静默成功
	EnsureCollection(ctx context.Context, name string, dimension int) error
	// Upsert 按 ID 覆盖写入整批记录，失败返回 ErrWriteFailed
	Upsert(ctx context.Context, name string, records []models.VectorRecord) error
	// Search 返回最近的 k 条记录，相似度降序，不做阈值过滤；集合不存在时返回空
	Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error)
}

// Hit 一条检索结果
type Hit struct {
	ID    string
	Text  string
	Score float32
}

// Texts 提取检索结果中的文本，保持顺序
func Texts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}

var collectionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateCollectionName 集合名同时作为 Milvus 集合名与 Postgres 表名，限制为标识符字符
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", ErrSchemaConflict, name)
	}
	return nil
}

func checkDimensions(records []models.VectorRecord, dim int) error {
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record with empty id", ErrWriteFailed)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has dimension %d, collection expects %d", ErrWriteFailed, r.ID, len(r.Vector), dim)
		}
	}
	return nil
}
