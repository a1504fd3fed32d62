// Package bootstrap 按配置装配向量库、嵌入与生成后端，供各命令复用
package bootstrap

import (
	"context"
	"fmt"

	"github.com/chongs12/asset-knowledge-base/internal/chat"
	"github.com/chongs12/asset-knowledge-base/internal/embedding"
	"github.com/chongs12/asset-knowledge-base/internal/indexing"
	"github.com/chongs12/asset-knowledge-base/internal/llm"
	"github.com/chongs12/asset-knowledge-base/internal/projector"
	"github.com/chongs12/asset-knowledge-base/internal/rag_query"
	"github.com/chongs12/asset-knowledge-base/internal/scheduler"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/chongs12/asset-knowledge-base/pkg/config"
	"github.com/chongs12/asset-knowledge-base/pkg/database"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

const arkTemperature = 0.7

// Closer 释放装配过程中打开的连接
type Closer func()

func NewStore(ctx context.Context, cfg *config.Config) (vector.Store, Closer, error) {
	switch cfg.Vector.Backend {
	case "milvus":
		cli, err := vector.NewMilvusClient(ctx, cfg.Milvus.Addr, cfg.Milvus.Username, cfg.Milvus.Password)
		if err != nil {
			return nil, nil, err
		}
		store := vector.NewMilvusStore(cli, cfg.Milvus.VectorField, cfg.Milvus.SearchEf)
		store.LogDiagnostics(ctx, cfg.Vector.Collection)
		logger.Info(ctx, "Vector store ready", "backend", "milvus", "addr", cfg.Milvus.Addr)
		return store, func() { _ = cli.Close() }, nil
	case "pgvector":
		pool, err := vector.NewPGVectorPool(ctx, cfg.PGVector.DSN, cfg.PGVector.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info(ctx, "Vector store ready", "backend", "pgvector")
		return vector.NewPGVectorStore(pool), pool.Close, nil
	case "memory":
		logger.Warn(ctx, "Using in-memory vector store, index is lost on restart")
		return vector.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
}

// NewRedis redis.enabled 为 false 时返回 nil
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// NewEmbedder 构建嵌入后端，按需叠加 token 上限与 Redis 缓存
func NewEmbedder(ctx context.Context, cfg *config.Config, rdb *redis.Client) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.AI.Provider {
	case "openai":
		client := llm.NewOpenAIClient(llm.OpenAIOptions{
			APIKey:  cfg.AI.OpenAIAPIKey,
			BaseURL: cfg.AI.OpenAIBaseURL,
			Timeout: cfg.AI.RequestTimeout,
		})
		emb = embedding.NewOpenAIEmbedder(client,
			embedding.WithEmbeddingModel(cfg.AI.EmbeddingModel),
			embedding.WithEmbeddingDimension(cfg.AI.EmbeddingDim))
	case "ark":
		e, err := embedding.NewArkEmbedder(ctx, cfg.Ark.APIKey, cfg.Ark.EmbeddingModel, cfg.Ark.BaseURL, cfg.Ark.Region)
		if err != nil {
			return nil, err
		}
		emb = e
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}

	if cfg.AI.MaxInputTokens > 0 {
		counter, err := embedding.NewTokenCounter()
		if err != nil {
			logger.Warn(ctx, "Token counter unavailable, input length guard disabled", "error", err.Error())
		} else {
			emb = embedding.NewLimitedEmbedder(emb, counter, cfg.AI.MaxInputTokens)
		}
	}
	if rdb != nil {
		emb = embedding.NewCachedEmbedder(emb, embedding.NewRedisCache(rdb), cfg.Redis.EmbeddingCacheTTL)
	}
	logger.Info(ctx, "Embedder ready", "provider", cfg.AI.Provider, "model", emb.Model(), "cache", rdb != nil)
	return emb, nil
}

func NewCompleter(ctx context.Context, cfg *config.Config) (chat.Completer, error) {
	switch cfg.AI.Provider {
	case "openai":
		client := llm.NewOpenAIClient(llm.OpenAIOptions{
			APIKey:  cfg.AI.OpenAIAPIKey,
			BaseURL: cfg.AI.OpenAIBaseURL,
			Timeout: cfg.AI.RequestTimeout,
		})
		return chat.NewOpenAICompleter(client, cfg.AI.ChatModel), nil
	case "ark":
		cm, err := chat.NewArkChatModel(ctx, cfg.Ark.APIKey, cfg.Ark.ChatModel, cfg.Ark.BaseURL, cfg.Ark.Region, arkTemperature)
		if err != nil {
			return nil, err
		}
		return chat.NewArkCompleter(cm), nil
	}
	return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
}

func NewPipeline(cfg *config.Config, emb embedding.Embedder, store vector.Store) *indexing.Pipeline {
	return indexing.NewPipeline(emb, store, indexing.Options{
		Collection:   cfg.Vector.Collection,
		Dimension:    cfg.AI.EmbeddingDim,
		Concurrency:  cfg.KnowledgeSync.Concurrency,
		BatchSize:    cfg.Vector.UpsertBatchSize,
		CallTimeout:  cfg.AI.RequestTimeout,
		StoreTimeout: cfg.Vector.RequestTimeout,
	})
}

func NewProjector(db *database.Database) *projector.Projector {
	return projector.NewProjector(projector.NewGormAssetSource(db.DB))
}

// NewScheduler publisher 可为 nil
func NewScheduler(cfg *config.Config, proj *projector.Projector, pipeline *indexing.Pipeline, publisher scheduler.EventPublisher) *scheduler.Scheduler {
	return scheduler.New(proj, pipeline, scheduler.Options{
		Interval:   cfg.KnowledgeSync.Interval,
		Cron:       cfg.KnowledgeSync.Cron,
		RunOnStart: cfg.KnowledgeSync.RunOnStart,
		RunTimeout: cfg.KnowledgeSync.RunTimeout,
	}, publisher)
}

// NewPublisher rabbitmq.enabled 为 false 时返回 nil
func NewPublisher(ctx context.Context, cfg *config.RabbitMQConfig) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	c, err := rabbitmq.NewClient(cfg.URL, cfg.Queue)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Sync events will be published", "queue", cfg.Queue)
	return c, nil
}

func NewQueryService(cfg *config.Config, emb embedding.Embedder, store vector.Store, completer chat.Completer) *rag_query.Service {
	return rag_query.NewService(emb, store, completer, rag_query.Options{
		Collection:   cfg.Vector.Collection,
		TopK:         cfg.Vector.TopK,
		SystemPrompt: cfg.RagQuery.SystemPrompt,
		MaxTokens:    cfg.RagQuery.MaxTokens,
		CallTimeout:  cfg.AI.RequestTimeout,
		StoreTimeout: cfg.Vector.RequestTimeout,
		Timeout:      cfg.RagQuery.Timeout,
	})
}
