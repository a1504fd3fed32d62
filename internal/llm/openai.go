// Package llm holds the client plumbing shared by the embedding and chat backends.
package llm

import (
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRateLimited 后端返回 429，调用方可据此区分限流与其他失败
var ErrRateLimited = errors.New("rate limited by model backend")

type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewOpenAIClient 创建带 otelhttp 追踪的 OpenAI 客户端；限流与 5xx 的退避重试交给 SDK
func NewOpenAIClient(o OpenAIOptions) openai.Client {
	httpc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithHTTPClient(httpc),
		option.WithMaxRetries(o.MaxRetries),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.Timeout))
	}
	return openai.NewClient(opts...)
}

func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
