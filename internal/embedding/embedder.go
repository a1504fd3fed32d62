package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed 单条文本向量化失败；索引流水线据此跳过该文档
var ErrEmbeddingFailed = errors.New("embedding failed")

// Embedder 把文本转换为定长向量。索引与查询必须使用同一个实例，保证向量空间一致
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model 标识向量空间，用作缓存键的一部分
	Model() string
}
