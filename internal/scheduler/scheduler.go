package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/internal/indexing"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/metrics"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const metricsService = "knowledge_sync"

var (
	// ErrRunInProgress 同一实例上已有同步在执行
	ErrRunInProgress = errors.New("knowledge sync already running")
	ErrRunPanicked   = errors.New("knowledge sync panicked")
)

var tracer = otel.Tracer("github.com/chongs12/asset-knowledge-base/internal/scheduler")

type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateIdleAfterError State = "idle_after_error"
)

type Projector interface {
	Project(ctx context.Context) ([]models.AssetDocument, error)
}

type Indexer interface {
	IndexAll(ctx context.Context, docs []models.AssetDocument) (*indexing.Result, error)
}

// EventPublisher 接收每轮同步的 JSON 报告，rabbitmq.Client 满足该接口
type EventPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

type Options struct {
	Interval   time.Duration
	Cron       string
	RunOnStart bool
	RunTimeout time.Duration
}

// Report 单轮同步的结果，同时作为同步事件的消息体
type Report struct {
	RunID      string           `json:"runId"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Documents  int              `json:"documents"`
	Result     *indexing.Result `json:"result,omitempty"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
}

// Status 调度器状态快照
type Status struct {
	State          State      `json:"state"`
	Runs           int64      `json:"runs"`
	LastStartedAt  *time.Time `json:"lastStartedAt,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	LastReport     *Report    `json:"lastReport,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Scheduler 周期性执行 投影→索引，同一时刻最多一轮
type Scheduler struct {
	projector Projector
	indexer   Indexer
	publisher EventPublisher
	opts      Options
	bm        *metrics.BusinessMetrics

	running atomic.Bool

	mu     sync.RWMutex
	status Status
}

func New(projector Projector, indexer Indexer, opts Options, publisher EventPublisher) *Scheduler {
	return &Scheduler{
		projector: projector,
		indexer:   indexer,
		publisher: publisher,
		opts:      opts,
		bm:        metrics.Business(),
		status:    Status{State: StateIdle},
	}
}

// Run 阻塞直到 ctx 取消；两轮之间的等待可被取消打断
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Cron != "" {
		return s.runCron(ctx)
	}
	if s.opts.Interval <= 0 {
		return fmt.Errorf("knowledge sync interval must be positive, got %s", s.opts.Interval)
	}

	logger.Info(ctx, "Knowledge sync scheduler started", "interval", s.opts.Interval.String(), "run_on_start", s.opts.RunOnStart)
	delay := s.opts.Interval
	if s.opts.RunOnStart {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Knowledge sync scheduler stopped")
			return nil
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.opts.Interval)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) error {
	l := cronLogger{}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(s.opts.Cron, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid knowledge sync cron %q: %w", s.opts.Cron, err)
	}

	logger.Info(ctx, "Knowledge sync scheduler started", "cron", s.opts.Cron, "run_on_start", s.opts.RunOnStart)
	if s.opts.RunOnStart {
		s.tick(ctx)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info(ctx, "Knowledge sync scheduler stopped")
	return nil
}

// tick 吞掉本轮的一切错误，保证下一轮照常执行
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); errors.Is(err, ErrRunInProgress) {
		logger.Warn(ctx, "Knowledge sync skipped: previous run still executing")
	}
}

// RunOnce 执行一轮同步；已有一轮在执行时返回 ErrRunInProgress
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	rep := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	s.markRunning(rep.StartedAt)

	runCtx := ctx
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	runCtx, span := tracer.Start(runCtx, "knowledge_sync.run")
	span.SetAttributes(attribute.String("run_id", rep.RunID))
	defer span.End()

	logger.Info(runCtx, "Knowledge sync started", "run_id", rep.RunID)
	err := s.execute(runCtx, rep)
	rep.FinishedAt = time.Now()
	rep.Status = "success"
	if err != nil {
		rep.Status = "fail"
		rep.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "knowledge sync failed")
	}

	s.finish(rep)
	s.observe(runCtx, rep, err)
	s.publish(ctx, rep)
	return rep, err
}

func (s *Scheduler) execute(ctx context.Context, rep *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Knowledge sync panicked", "run_id", rep.RunID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrRunPanicked, r)
		}
	}()

	docs, err := s.projector.Project(ctx)
	if err != nil {
		return fmt.Errorf("project assets: %w", err)
	}
	rep.Documents = len(docs)

	res, err := s.indexer.IndexAll(ctx, docs)
	rep.Result = res
	if err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	return nil
}

func (s *Scheduler) markRunning(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = StateRunning
	s.status.LastStartedAt = &at
}

func (s *Scheduler) finish(rep *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := rep.FinishedAt
	s.status.Runs++
	s.status.LastFinishedAt = &finished
	s.status.LastReport = rep
	if rep.Error != "" {
		s.status.State = StateIdleAfterError
		s.status.LastError = rep.Error
		return
	}
	s.status.State = StateIdle
	s.status.LastError = ""
}

func (s *Scheduler) observe(ctx context.Context, rep *Report, err error) {
	elapsed := rep.FinishedAt.Sub(rep.StartedAt)
	s.bm.SyncRunTotal.WithLabelValues(metricsService, rep.Status).Inc()
	s.bm.SyncRunDuration.WithLabelValues(metricsService, rep.Status).Observe(elapsed.Seconds())

	switch {
	case err == nil:
		kv := []interface{}{"run_id", rep.RunID, "documents", rep.Documents, "duration_ms", elapsed.Milliseconds()}
		if rep.Result != nil {
			kv = append(kv, "indexed", rep.Result.Indexed, "failed", rep.Result.Failed)
		}
		logger.Info(ctx, "Knowledge sync finished", kv...)
	case vector.IsFatal(err):
		logger.Error(ctx, "Knowledge sync blocked by vector schema conflict",
			"run_id", rep.RunID,
			"error", err.Error(),
			"action", "drop or recreate the collection, or align ai.embedding_dim with the existing collection")
	default:
		logger.Error(ctx, "Knowledge sync failed, will retry on next run", "run_id", rep.RunID, "error", err.Error(), "duration_ms", elapsed.Milliseconds())
	}
}

func (s *Scheduler) publish(ctx context.Context, rep *Report) {
	if s.publisher == nil {
		return
	}
	body, err := sonic.Marshal(rep)
	if err != nil {
		logger.Warn(ctx, "Marshal sync report failed", "run_id", rep.RunID, "error", err.Error())
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, body); err != nil {
		logger.Warn(ctx, "Publish sync report failed", "run_id", rep.RunID, "error", err.Error())
	}
}

// Status 返回当前状态的副本
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.LastReport != nil {
		r := *st.LastReport
		st.LastReport = &r
	}
	return st
}

// cronLogger 把 cron 的内部日志转到 logrus
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	kv := append([]interface{}{"error", err.Error()}, keysAndValues...)
	logger.Error(context.Background(), "cron: "+msg, kv...)
}
