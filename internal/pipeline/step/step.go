// Package step defines the Step interface and the timer/audit
// decorator that wraps every step execution. Grounded on
// original_source/agent/db.py's StepTimer and spec.md §4.5/§9's
// REDESIGN FLAG (a polymorphic step body as an interface rather than a
// free function over a dynamic dict).
package step

import (
	"context"
	"fmt"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

// Step is one node in the phase graph.
type Step interface {
	Name() string
	Timeout() time.Duration
	Run(ctx context.Context, state model.Blackboard) (model.Delta, error)
}

// Outcome classifies how a step execution ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// Result is what Execute returns: the merged delta (nil on failure),
// the outcome classification, and any error.
type Result struct {
	Delta   model.Delta
	Outcome Outcome
	Err     error
}

// Execute runs one step under its timeout, checks cancellation first,
// and always appends an audit entry — mirroring spec.md §4.5's
// five-point contract:
//  1. record start time
//  2. check cancellation
//  3. run body with timeout, classify success/failure/timeout
//  4. append audit entry with duration + truncated metadata summary
//  5. (merge is the caller's responsibility, since only the
//     orchestrator owns the live Blackboard)
func Execute(ctx context.Context, st *store.Store, runID int64, s Step, state model.Blackboard) Result {
	timer := st.NewTimer(runID, s.Name())

	if err := ctx.Err(); err != nil {
		timer.FinishWithStatus(ctx, store.AuditFailure, "cancelled before start", nil)
		return Result{Outcome: OutcomeFailure, Err: &model.CancelledError{}}
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	type runOut struct {
		delta model.Delta
		err   error
	}
	out := make(chan runOut, 1)
	go func() {
		d, err := s.Run(stepCtx, state)
		out <- runOut{d, err}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			if w, ok := r.err.(*model.Warning); ok {
				timer.FinishWithStatus(ctx, store.AuditWarning, w.Msg, w.Metadata)
				return Result{Delta: r.delta, Outcome: OutcomeSuccess}
			}
			if _, ok := r.err.(*model.CancelledError); ok {
				timer.FinishWithStatus(ctx, store.AuditFailure, "cancelled", nil)
				return Result{Outcome: OutcomeFailure, Err: r.err}
			}
			timer.Finish(ctx, r.err, nil)
			return Result{Outcome: OutcomeFailure, Err: r.err}
		}
		timer.FinishWithStatus(ctx, store.AuditSuccess, "", summarizeDelta(state, r.delta))
		return Result{Delta: r.delta, Outcome: OutcomeSuccess}
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			timer.FinishWithStatus(ctx, store.AuditFailure, "cancelled", nil)
			return Result{Outcome: OutcomeFailure, Err: &model.CancelledError{}}
		}
		timer.FinishWithStatus(ctx, store.AuditTimeout, fmt.Sprintf("exceeded %s", s.Timeout()), nil)
		return Result{Outcome: OutcomeTimeout, Err: &model.TimeoutError{Step: s.Name()}}
	}
}

// Skip records a skipped-branch audit entry without running a body, for
// steps whose preconditions are not met (spec.md §4.6: s3b/c/d "if
// empty, skip (status skipped, no call)").
func Skip(ctx context.Context, st *store.Store, runID int64, name, reason string) Result {
	st.LogStep(ctx, runID, name, store.AuditSkipped, reason, 0, nil)
	return Result{Outcome: OutcomeSkipped}
}

// summarizeDelta builds the audit metadata summary: strings over 10KB
// truncated with a length marker, lists over 10 items sampled to 10
// plus a count (spec.md §4.5 bullet 4, §9 "Audit summarization").
func summarizeDelta(before model.Blackboard, d model.Delta) map[string]any {
	if d == nil {
		return nil
	}
	after := before
	after.Merge(d)

	summary := map[string]any{}
	addStringSummary(summary, "report_markdown", after.ReportMarkdown, before.ReportMarkdown)
	addStringSummary(summary, "section_featured", after.SectionFeatured, before.SectionFeatured)
	addListSummary(summary, "secondary", toAnySlice(after.Secondary), len(before.Secondary))
	addListSummary(summary, "opportunities_primary", toAnySlice(after.OpportunitiesPrimary), len(before.OpportunitiesPrimary))
	return summary
}

const maxMetadataString = 10 * 1024
const maxMetadataListItems = 10

func addStringSummary(summary map[string]any, key, after, before string) {
	if after == before {
		return
	}
	if len(after) > maxMetadataString {
		summary[key] = fmt.Sprintf("%s... [truncated, %d chars total]", after[:maxMetadataString], len(after))
		return
	}
	summary[key] = after
}

// addListSummary records both the new length and a sample of up to
// maxMetadataListItems entries, matching db.py's audit metadata shape
// (a count alone loses which records actually changed).
func addListSummary(summary map[string]any, key string, after []any, beforeLen int) {
	if len(after) == beforeLen {
		return
	}
	sample := after
	if len(sample) > maxMetadataListItems {
		sample = sample[:maxMetadataListItems]
	}
	summary[key] = map[string]any{"count": len(after), "sample": sample}
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
