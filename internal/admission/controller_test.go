package admission

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/pipeline"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "pipeline.db")
	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeOrchestrator holds concurrently-running calls open until released,
// so tests can assert the concurrency bound directly.
type fakeOrchestrator struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	release     chan struct{}
	calls       int32
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{release: make(chan struct{})}
}

func (f *fakeOrchestrator) Run(ctx context.Context, wh store.Webhook, preAssignedRunID int64, batchID string) pipeline.RunResult {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return pipeline.RunResult{Outcome: pipeline.OutcomeCompleted}
}

func TestSubmitReturnsRunIDImmediately(t *testing.T) {
	st := newTestStore(t)
	orch := newFakeOrchestrator()
	c := New(st, config.NewRegistry(), orch, 3)

	runID, err := c.Submit(context.Background(), store.Webhook{TargetCompany: "Acme"})
	require.NoError(t, err)
	assert.NotZero(t, runID)

	close(orch.release)
}

func TestBatchRespectsCapacityBound(t *testing.T) {
	st := newTestStore(t)
	orch := newFakeOrchestrator()
	reg := config.NewRegistry()
	require.NoError(t, reg.SetValue("max_concurrent_runs", 2))
	c := New(st, reg, orch, 3)

	webhooks := []store.Webhook{
		{TargetCompany: "A"}, {TargetCompany: "B"}, {TargetCompany: "C"},
	}
	batchID, runIDs, err := c.SubmitBatch(context.Background(), webhooks)
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	assert.Len(t, runIDs, 3)

	// Give the first two workers time to block inside fakeOrchestrator.Run.
	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return orch.inFlight == 2
	}, time.Second, 5*time.Millisecond)

	close(orch.release)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&orch.calls) == 3
	}, time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, orch.maxInFlight, 2)
}

func TestCancelKillsQueuedRunBeforeItAcquiresASlot(t *testing.T) {
	st := newTestStore(t)
	orch := newFakeOrchestrator()
	c := New(st, config.NewRegistry(), orch, 1)

	firstRunID, err := c.Submit(context.Background(), store.Webhook{TargetCompany: "First"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return orch.inFlight == 1
	}, time.Second, 5*time.Millisecond)

	secondRunID, err := c.Submit(context.Background(), store.Webhook{TargetCompany: "Second"})
	require.NoError(t, err)

	// second run is still queued behind the capacity-1 semaphore.
	ok := c.Cancel(secondRunID)
	assert.True(t, ok)

	run, err := st.GetRun(context.Background(), secondRunID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		run, err = st.GetRun(context.Background(), secondRunID)
		require.NoError(t, err)
		return run.Status == "cancelled"
	}, time.Second, 5*time.Millisecond)

	close(orch.release)
	_ = firstRunID
}

func TestCancelUnknownRunReturnsFalse(t *testing.T) {
	st := newTestStore(t)
	orch := newFakeOrchestrator()
	c := New(st, config.NewRegistry(), orch, 3)
	assert.False(t, c.Cancel(999))
	close(orch.release)
}

func TestHealthReportsActiveRuns(t *testing.T) {
	st := newTestStore(t)
	orch := newFakeOrchestrator()
	c := New(st, config.NewRegistry(), orch, 2)

	_, err := c.Submit(context.Background(), store.Webhook{TargetCompany: "Acme"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Health().ActiveRuns == 1
	}, time.Second, 5*time.Millisecond)

	h := c.Health()
	assert.Equal(t, int64(2), h.Capacity)
	close(orch.release)
}
