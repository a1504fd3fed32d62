package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/internal/embedding"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 500
	metricsService     = "indexing"
)

var tracer = otel.Tracer("github.com/chongs12/asset-knowledge-base/internal/indexing")

type Options struct {
	Collection  string
	Dimension   int
	Concurrency int
	BatchSize   int
	// CallTimeout 单次向量化调用的超时，0 表示只受 ctx 约束
	CallTimeout time.Duration
	// StoreTimeout 约束 EnsureCollection 与每批 Upsert
	StoreTimeout time.Duration
}

// Pipeline 全量向量化并写入向量库；单个文档失败只跳过该文档
type Pipeline struct {
	embedder embedding.Embedder
	store    vector.Store
	opts     Options
	bm       *metrics.BusinessMetrics
}

// Result 一次 IndexAll 的统计
type Result struct {
	Total     int           `json:"total"`
	Indexed   int           `json:"indexed"`
	Failed    int           `json:"failed"`
	FailedIDs []string      `json:"failedIds,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func NewPipeline(embedder embedding.Embedder, store vector.Store, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Pipeline{embedder: embedder, store: store, opts: opts, bm: metrics.Business()}
}

func (p *Pipeline) IndexAll(ctx context.Context, docs []models.AssetDocument) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "indexing.IndexAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", p.opts.Collection),
		attribute.Int("documents", len(docs)),
	)

	if err := p.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensure collection")
		return nil, err
	}

	records := make([]*models.VectorRecord, len(docs))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		doc := docs[i]
		g.Go(func() error {
			vec, err := p.embed(ctx, doc)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn(ctx, "Skipping document: embedding failed", "document_id", doc.ID, "error", err.Error())
				}
				return nil
			}
			rec := models.NewVectorRecord(doc, vec)
			records[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	res := &Result{Total: len(docs)}
	batch := make([]models.VectorRecord, 0, len(docs))
	for i, rec := range records {
		if rec == nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, docs[i].ID)
			continue
		}
		batch = append(batch, *rec)
	}
	batch = dedupeByID(batch)

	for from := 0; from < len(batch); from += p.opts.BatchSize {
		to := min(from+p.opts.BatchSize, len(batch))
		if err := p.upsert(ctx, batch[from:to]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert")
			res.Duration = time.Since(start)
			return res, err
		}
		res.Indexed += to - from
	}
	res.Duration = time.Since(start)

	p.bm.DocumentIndexTotal.WithLabelValues(metricsService, "success").Add(float64(res.Indexed))
	p.bm.DocumentIndexTotal.WithLabelValues(metricsService, "fail").Add(float64(res.Failed))
	span.SetAttributes(attribute.Int("indexed", res.Indexed), attribute.Int("failed", res.Failed))
	logger.Info(ctx, "Indexing finished",
		"collection", p.opts.Collection,
		"total", res.Total,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (p *Pipeline) ensureCollection(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return p.store.EnsureCollection(ctx, p.opts.Collection, p.opts.Dimension)
}

func (p *Pipeline) upsert(ctx context.Context, records []models.VectorRecord) error {
	ctx, cancel := withTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return p.store.Upsert(ctx, p.opts.Collection, records)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) embed(ctx context.Context, doc models.AssetDocument) ([]float32, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document has empty id", embedding.ErrEmbeddingFailed)
	}
	ctx, cancel := withTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, doc.Text)
	if err == nil && len(vec) != p.opts.Dimension {
		err = fmt.Errorf("%w: got %d dimensions, want %d", embedding.ErrEmbeddingFailed, len(vec), p.opts.Dimension)
	}
	status := "success"
	if err != nil {
		status = "fail"
		if !errors.Is(err, embedding.ErrEmbeddingFailed) {
			err = fmt.Errorf("%w: %w", embedding.ErrEmbeddingFailed, err)
		}
	}
	p.bm.EmbeddingDuration.WithLabelValues(metricsService, status).Observe(time.Since(start).Seconds())
	return vec, err
}

// dedupeByID 同一 ID 出现多次时保留最后一次，位置取第一次出现处
func dedupeByID(records []models.VectorRecord) []models.VectorRecord {
	pos := make(map[string]int, len(records))
	out := records[:0]
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
