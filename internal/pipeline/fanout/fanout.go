// Package fanout provides the parallel-phase dispatch-and-join
// primitive used by the orchestrator's Phase IV discovery branches.
// Grounded on tarsy's pkg/agent/orchestrator/runner.go SubAgentRunner:
// one goroutine per branch, each writing its result into its own slot
// of a results slice, joined with a sync.WaitGroup.
package fanout

import (
	"context"
	"sync"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/step"
)

// Branch wraps one step to run as a parallel branch; its result is
// reported at the branch's index in Run's returned slice.
type Branch struct {
	Step step.Step
}

// Run executes every branch concurrently against the same read-only
// blackboard snapshot and returns one step.Result per branch, in the
// same order as branches — matching spec.md §4.6's "Parallel steps
// within a phase are independent; their deltas are merged into the
// blackboard as they complete in an order-independent way (each step
// writes a disjoint key set)". Order in the returned slice is
// deterministic (input order); merge order therefore does not matter
// because writes are disjoint.
func Run(ctx context.Context, execute func(context.Context, step.Step) step.Result, branches []Branch) []step.Result {
	results := make([]step.Result, len(branches))

	var wg sync.WaitGroup
	for i, b := range branches {
		wg.Add(1)
		go func(i int, b Branch) {
			defer wg.Done()
			results[i] = execute(ctx, b.Step)
		}(i, b)
	}
	wg.Wait()

	return results
}

// MergeAll applies every successful result's delta into the blackboard
// in slice order. Safe because each branch writes a disjoint key set.
func MergeAll(bb *model.Blackboard, results []step.Result) {
	for _, r := range results {
		if r.Outcome == step.OutcomeSuccess && r.Delta != nil {
			bb.Merge(r.Delta)
		}
	}
}

// AnyFailed reports whether any branch result is a hard failure
// (neither success nor skipped). Timeouts count as failures per
// spec.md §5 "a timeout ... treats it as a failure for that step
// (terminal for that run)" when the branch is load-bearing; callers
// decide per-phase whether a branch failure is fatal to the whole run.
func AnyFailed(results []step.Result) bool {
	for _, r := range results {
		if r.Outcome == step.OutcomeFailure || r.Outcome == step.OutcomeTimeout {
			return true
		}
	}
	return false
}
