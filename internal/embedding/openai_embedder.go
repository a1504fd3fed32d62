package embedding

import (
	"context"
	"fmt"

	"github.com/chongs12/asset-knowledge-base/internal/llm"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/openai/openai-go/v3"
)

const (
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 1536
)

type openAIOptions struct {
	model     string
	dimension int
}

type OpenAIOption func(*openAIOptions)

func WithEmbeddingModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithEmbeddingDimension(dimension int) OpenAIOption {
	return func(o *openAIOptions) {
		o.dimension = dimension
	}
}

// OpenAIEmbedder 调用 OpenAI embeddings 接口
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(client openai.Client, opts ...OpenAIOption) *OpenAIEmbedder {
	o := openAIOptions{model: DefaultEmbeddingModel, dimension: DefaultEmbeddingDimension}
	for _, opt := range opts {
		opt(&o)
	}
	return &OpenAIEmbedder{client: client, model: o.model, dimension: o.dimension}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, fmt.Errorf("%w: %w: %w", ErrEmbeddingFailed, llm.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned by %s", ErrEmbeddingFailed, e.model)
	}
	return vector.Float64ToFloat32(resp.Data[0].Embedding), nil
}
