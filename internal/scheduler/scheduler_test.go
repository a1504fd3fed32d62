package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/internal/indexing"
	"github.com/chongs12/asset-knowledge-base/internal/vector"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProjector struct {
	calls atomic.Int32
	panic bool
}

func (p *stubProjector) Project(context.Context) ([]models.AssetDocument, error) {
	n := p.calls.Add(1)
	if p.panic && n == 1 {
		panic("projection blew up")
	}
	return []models.AssetDocument{{ID: "1", Text: "ThinkPad X1 (Laptop)"}}, nil
}

// stubIndexer 按调用序号返回 errs 中的错误，block 非空时阻塞直到关闭
type stubIndexer struct {
	calls atomic.Int32
	errs  map[int32]error
	block chan struct{}
}

func (i *stubIndexer) IndexAll(ctx context.Context, docs []models.AssetDocument) (*indexing.Result, error) {
	n := i.calls.Add(1)
	if i.block != nil {
		select {
		case <-i.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := i.errs[n]; err != nil {
		return nil, err
	}
	return &indexing.Result{Total: len(docs), Indexed: len(docs)}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

func runInBackground(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestFailedTickDoesNotStopNextTick(t *testing.T) {
	idx := &stubIndexer{errs: map[int32]error{1: vector.ErrStoreUnavailable}}
	s := New(&stubProjector{}, idx, Options{Interval: 20 * time.Millisecond, RunOnStart: true}, nil)

	cancel, done := runInBackground(t, s)
	require.Eventually(t, func() bool { return idx.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)

	st := s.Status()
	assert.GreaterOrEqual(t, st.Runs, int64(2))
}

func TestPanicInTickIsRecovered(t *testing.T) {
	proj := &stubProjector{panic: true}
	idx := &stubIndexer{}
	s := New(proj, idx, Options{Interval: 20 * time.Millisecond, RunOnStart: true}, nil)

	cancel, done := runInBackground(t, s)
	require.Eventually(t, func() bool { return idx.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
	assert.GreaterOrEqual(t, proj.calls.Load(), int32(2))
}

func TestSchemaConflictKeepsLoopRunning(t *testing.T) {
	conflict := errors.Join(vector.ErrSchemaConflict, errors.New("dimension 768 != 1536"))
	idx := &stubIndexer{errs: map[int32]error{1: conflict, 2: conflict}}
	s := New(&stubProjector{}, idx, Options{Interval: 10 * time.Millisecond, RunOnStart: true}, nil)

	cancel, done := runInBackground(t, s)
	require.Eventually(t, func() bool { return idx.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
}

func TestCancelDuringDelay(t *testing.T) {
	idx := &stubIndexer{}
	s := New(&stubProjector{}, idx, Options{Interval: time.Hour}, nil)

	cancel, done := runInBackground(t, s)
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()
	waitStopped(t, done)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, idx.calls.Load())
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	s := New(&stubProjector{}, &stubIndexer{}, Options{}, nil)
	assert.Error(t, s.Run(context.Background()))
}

func TestRunOnceSingleFlight(t *testing.T) {
	idx := &stubIndexer{block: make(chan struct{})}
	s := New(&stubProjector{}, idx, Options{Interval: time.Hour}, nil)

	first := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return s.Status().State == StateRunning }, time.Second, time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(idx.block)
	require.NoError(t, <-first)
	assert.Equal(t, StateIdle, s.Status().State)
	assert.EqualValues(t, 1, idx.calls.Load())
}

func TestStatusTransitions(t *testing.T) {
	idx := &stubIndexer{errs: map[int32]error{1: vector.ErrWriteFailed}}
	s := New(&stubProjector{}, idx, Options{Interval: time.Hour}, nil)
	assert.Equal(t, StateIdle, s.Status().State)

	rep, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, vector.ErrWriteFailed)
	assert.Equal(t, "fail", rep.Status)
	st := s.Status()
	assert.Equal(t, StateIdleAfterError, st.State)
	assert.Contains(t, st.LastError, "vector write failed")
	require.NotNil(t, st.LastStartedAt)
	require.NotNil(t, st.LastFinishedAt)

	rep, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", rep.Status)
	assert.Equal(t, 1, rep.Documents)
	st = s.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.LastError)
	assert.EqualValues(t, 2, st.Runs)
	assert.Equal(t, rep.RunID, st.LastReport.RunID)
}

func TestRunTimeoutBoundsRun(t *testing.T) {
	idx := &stubIndexer{block: make(chan struct{})}
	s := New(&stubProjector{}, idx, Options{Interval: time.Hour, RunTimeout: 20 * time.Millisecond}, nil)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishesReport(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := New(&stubProjector{}, &stubIndexer{}, Options{Interval: time.Hour}, pub)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pub.count())

	var got Report
	require.NoError(t, sonic.Unmarshal(pub.bodies[0], &got))
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, "success", got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.Indexed)
}

func TestCronModeRunsOnStart(t *testing.T) {
	idx := &stubIndexer{}
	s := New(&stubProjector{}, idx, Options{Cron: "@every 1h", RunOnStart: true}, nil)

	cancel, done := runInBackground(t, s)
	require.Eventually(t, func() bool { return s.Status().Runs == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
}

func TestCronModeInvalidExpression(t *testing.T) {
	s := New(&stubProjector{}, &stubIndexer{}, Options{Cron: "not a cron"}, nil)
	assert.Error(t, s.Run(context.Background()))
}

func TestStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(&stubProjector{}, &stubIndexer{}, Options{Interval: time.Hour}, nil)
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	r := gin.New()
	NewHandler(s).SetupRoutes(r, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/sync/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "idle", body["state"])
	assert.EqualValues(t, 1, body["runs"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/sync/status", nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
}
