package rag_query

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chongs12/asset-knowledge-base/internal/chat"
	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/internal/embedding"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/metrics"
	"github.com/chongs12/asset-knowledge-base/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultSystemPrompt = "You are a helpful AI assistant for an asset management system."
	DefaultMaxTokens    = 150
	DefaultTopK         = 5

	NoAnswerText    = "I'm sorry, I couldn't find an answer to your question."
	ErrorAnswerText = "I'm sorry, I encountered an error while processing your request."

	metricsService = "rag_query"
)

var (
	ErrEmptyQuery    = errors.New("query is empty")
	ErrQueryPanicked = errors.New("query panicked")
)

var tracer = otel.Tracer("github.com/chongs12/asset-knowledge-base/internal/rag_query")

type Options struct {
	Collection   string
	TopK         int
	SystemPrompt string
	MaxTokens    int
	// CallTimeout 分别约束向量化与生成两次模型调用
	CallTimeout time.Duration
	// StoreTimeout 约束向量检索，0 时退回 CallTimeout
	StoreTimeout time.Duration
	// Timeout 整次问答的上限
	Timeout time.Duration
}

// Service 检索增强问答：向量化问题→检索 top-k→带上下文生成
type Service struct {
	embedder  embedding.Embedder
	store     vector.Store
	completer chat.Completer
	opts      Options
	bm        *metrics.BusinessMetrics
}

// NewService 创建服务实例；embedder 必须与索引时使用的一致
func NewService(embedder embedding.Embedder, store vector.Store, completer chat.Completer, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Service{embedder: embedder, store: store, completer: completer, opts: opts, bm: metrics.Business()}
}

// Answer 永不返回错误，失败时给出兜底回复并填充 errorMessage
func (s *Service) Answer(ctx context.Context, query, sessionID string) (resp *models.ChatbotResponse) {
	start := time.Now()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "rag_query.Answer")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "RAG query panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = failure(sessionID, fmt.Errorf("%w: %v", ErrQueryPanicked, r))
		}
		status := "success"
		if !resp.IsSuccessful {
			status = "fail"
			span.SetStatus(codes.Error, resp.ErrorMessage)
		}
		s.bm.RagQueryTotal.WithLabelValues(metricsService, status).Inc()
		s.bm.RagQueryDuration.WithLabelValues(metricsService, status).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(query) == "" {
		return failure(sessionID, ErrEmptyQuery)
	}

	answer, err := s.answer(ctx, query)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, "RAG query failed", "session_id", sessionID, "error", err.Error())
		return failure(sessionID, err)
	}
	logger.Info(ctx, "RAG query answered", "session_id", sessionID, "latency_ms", time.Since(start).Milliseconds())
	return &models.ChatbotResponse{Response: answer, SessionID: sessionID, IsSuccessful: true}
}

func (s *Service) answer(ctx context.Context, query string) (string, error) {
	vec, err := s.embed(ctx, query)
	if err != nil {
		return "", err
	}

	hits, err := s.search(ctx, vec)
	if err != nil {
		return "", err
	}
	trace := make([]string, len(hits))
	for i, h := range hits {
		trace[i] = h.ID
	}
	logger.Debug(ctx, "Retrieved asset documents", "count", len(hits), "ids", trace, "query", utils.TruncateString(utils.NormalizeText(query), 100))

	candidates, err := s.complete(ctx, BuildPrompt(vector.Texts(hits), query))
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return NoAnswerText, nil
	}
	return strings.TrimSpace(candidates[0]), nil
}

func (s *Service) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.embedder.Embed(ctx, query)
}

func (s *Service) search(ctx context.Context, vec []float32) ([]vector.Hit, error) {
	timeout := s.opts.StoreTimeout
	if timeout <= 0 {
		timeout = s.opts.CallTimeout
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "rag_query.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.opts.Collection), attribute.Int("top_k", s.opts.TopK))
	return s.store.Search(ctx, s.opts.Collection, vec, s.opts.TopK)
}

func (s *Service) complete(ctx context.Context, prompt string) ([]string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.completer.Complete(ctx, s.opts.SystemPrompt, prompt, s.opts.MaxTokens)
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.opts.CallTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// BuildPrompt 检索到的文本按换行拼接，不去重不过滤
func BuildPrompt(texts []string, query string) string {
	return "Based on the following information:\n\n---\n" +
		strings.Join(texts, "\n") +
		"\n---\n\nAnswer the question: " + query
}

func failure(sessionID string, err error) *models.ChatbotResponse {
	return &models.ChatbotResponse{
		Response:     ErrorAnswerText,
		SessionID:    sessionID,
		IsSuccessful: false,
		ErrorMessage: err.Error(),
	}
}
