package embedding

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 使用 cl100k_base 统计 token 数，与 OpenAI embedding 模型的分词一致
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (t *TokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// LimitedEmbedder 超过 token 上限的文本在本地直接失败，不请求后端
type LimitedEmbedder struct {
	next      Embedder
	counter   interface{ Count(string) int }
	maxTokens int
}

func NewLimitedEmbedder(next Embedder, counter interface{ Count(string) int }, maxTokens int) *LimitedEmbedder {
	return &LimitedEmbedder{next: next, counter: counter, maxTokens: maxTokens}
}

func (l *LimitedEmbedder) Model() string { return l.next.Model() }

func (l *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.maxTokens > 0 {
		if n := l.counter.Count(text); n > l.maxTokens {
			return nil, fmt.Errorf("%w: input has %d tokens, limit is %d", ErrEmbeddingFailed, n, l.maxTokens)
		}
	}
	return l.next.Embed(ctx, text)
}
