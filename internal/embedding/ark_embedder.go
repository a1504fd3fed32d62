package embedding

import (
	"context"
	"fmt"

	"github.com/chongs12/asset-knowledge-base/internal/vector"
	arkext "github.com/cloudwego/eino-ext/components/embedding/ark"
)

type ArkEmbedder struct {
	emb   *arkext.Embedder
	model string
}

// 新建 Ark 向量嵌入器（使用火山引擎 Ark）
func NewArkEmbedder(ctx context.Context, apiKey, model, baseURL, region string) (*ArkEmbedder, error) {
	cfg := &arkext.EmbeddingConfig{
		APIKey: apiKey,
		Model:  model,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if region != "" {
		cfg.Region = region
	}
	emb, err := arkext.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create ark embedder: %w", err)
	}
	return &ArkEmbedder{emb: emb, model: model}, nil
}

func (a *ArkEmbedder) Model() string { return a.model }

func (a *ArkEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.emb.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned by %s", ErrEmbeddingFailed, a.model)
	}
	return vector.Float64ToFloat32(vecs[0]), nil
}
