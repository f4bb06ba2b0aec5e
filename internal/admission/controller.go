// Package admission gates entry into orchestrator execution behind a
// semaphore, tracks per-run cancel functions for kill requests, and
// groups batch submissions under a shared batch_id. Grounded in shape
// on tarsy's pkg/queue/pool.go (WorkerPool's activeSessions registry,
// RegisterSession/CancelSession, Health aggregation), with the gate
// itself swapped from tarsy's DB-poll-and-claim model to an in-process
// semaphore.Weighted. A spawned run first acquires a slot and only then
// enters Orchestrator.Run, whose s1 step marks the run processing, so
// runs waiting for a slot stay pending.
package admission

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/pipeline"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

// Orchestrator is the subset of pipeline.Orchestrator that admission
// depends on, narrowed for testability.
type Orchestrator interface {
	Run(ctx context.Context, wh store.Webhook, preAssignedRunID int64, batchID string) pipeline.RunResult
}

// Controller admits runs and batches, gating heavy work behind a
// process-wide semaphore sized to the config snapshot taken at
// admission time.
type Controller struct {
	store        *store.Store
	cfg          *config.Registry
	orchestrator Orchestrator
	globalSem    *semaphore.Weighted
	globalCap    int64

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	batches map[string][]int64
}

// New builds a Controller. globalCapacity should normally come from
// config.FactoryDefaults().MaxConcurrentRuns; it is a separate
// parameter (rather than read per-submission from the registry)
// because a semaphore's capacity cannot change after construction —
// matching spec.md §4.7's "mutations affect only subsequently admitted
// runs", capacity here is fixed at controller construction and a
// runtime change to MaxConcurrentRuns takes effect on process restart.
func New(st *store.Store, cfg *config.Registry, orch Orchestrator, globalCapacity int64) *Controller {
	return &Controller{
		store:        st,
		cfg:          cfg,
		orchestrator: orch,
		globalSem:    semaphore.NewWeighted(globalCapacity),
		globalCap:    globalCapacity,
		cancels:      make(map[int64]context.CancelFunc),
		batches:      make(map[string][]int64),
	}
}

// Submit accepts one webhook, inserts its pending run stub, and spawns
// a worker goroutine gated by the global semaphore. Returns the run id
// immediately so the caller (the HTTP handler) can respond without
// waiting for a slot.
func (c *Controller) Submit(ctx context.Context, wh store.Webhook) (int64, error) {
	runID, err := c.store.InsertRunStub(ctx, wh, "")
	if err != nil {
		return 0, err
	}
	c.spawn(runID, wh, "", c.globalSem)
	return runID, nil
}

// SubmitBatch accepts a list of webhooks, assigns a shared batch_id,
// inserts stubs for all of them up front, and spawns workers gated by
// a batch-local semaphore (spec.md §4.8: "batch-local semaphore whose
// capacity is snapshot.MAX_CONCURRENT_RUNS" — independent of the
// global semaphore used by single-run submissions).
func (c *Controller) SubmitBatch(ctx context.Context, webhooks []store.Webhook) (string, []int64, error) {
	batchID := uuid.NewString()
	snapshot := c.cfg.Snapshot()
	batchSem := semaphore.NewWeighted(int64(snapshot.MaxConcurrentRuns))

	runIDs := make([]int64, 0, len(webhooks))
	for _, wh := range webhooks {
		runID, err := c.store.InsertRunStub(ctx, wh, batchID)
		if err != nil {
			return "", nil, err
		}
		runIDs = append(runIDs, runID)
	}

	c.mu.Lock()
	c.batches[batchID] = append([]int64{}, runIDs...)
	c.mu.Unlock()

	for i, wh := range webhooks {
		c.spawn(runIDs[i], wh, batchID, batchSem)
	}
	return batchID, runIDs, nil
}

// spawn registers a cancel func immediately (so a queued run can be
// killed before it ever acquires a slot), then blocks on sem until a
// slot opens, then hands off to the orchestrator.
func (c *Controller) spawn(runID int64, wh store.Webhook, batchID string, sem *semaphore.Weighted) {
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancels[runID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.cancels, runID)
			c.mu.Unlock()
			cancel()
		}()

		if err := sem.Acquire(runCtx, 1); err != nil {
			// Cancelled while still queued: the orchestrator's admitRun
			// step never ran, so the run stays in the `pending` row it
			// was inserted with. Mark it cancelled explicitly so it does
			// not linger as pending forever.
			_ = c.store.UpdateRunCancelled(context.Background(), runID)
			slog.Info("admission: run killed before acquiring a slot", "run_id", runID)
			return
		}
		defer sem.Release(1)

		result := c.orchestrator.Run(runCtx, wh, runID, batchID)
		if result.Err != nil {
			slog.Error("admission: run finished with error", "run_id", runID, "outcome", result.Outcome, "error", result.Err)
		} else {
			slog.Info("admission: run finished", "run_id", runID, "outcome", result.Outcome)
		}
	}()
}

// Cancel triggers cancellation for one run. Returns false if the run
// is not tracked (already finished, or unknown id).
func (c *Controller) Cancel(runID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.cancels[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelBatch cancels every still-tracked run in a batch and returns
// how many were found alive.
func (c *Controller) CancelBatch(batchID string) int {
	c.mu.Lock()
	runIDs := append([]int64{}, c.batches[batchID]...)
	c.mu.Unlock()

	n := 0
	for _, id := range runIDs {
		if c.Cancel(id) {
			n++
		}
	}
	return n
}

// Health reports the controller's current load, grounded on tarsy's
// WorkerPool.Health aggregation shape.
type Health struct {
	ActiveRuns int
	Capacity   int64
}

func (c *Controller) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{ActiveRuns: len(c.cancels), Capacity: c.globalCap}
}
