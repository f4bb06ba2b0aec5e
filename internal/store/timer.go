package store

import (
	"context"
	"fmt"
	"time"
)

// Timer mirrors original_source/agent/db.py's StepTimer context
// manager: it records a start time and, on Finish, always logs an
// audit entry — defaulting to failure status with the error's message
// if one was supplied. LogStep itself never raises, so a Timer can
// never break the pipeline it is instrumenting.
type Timer struct {
	store *Store
	runID int64
	step  string
	start time.Time
}

// NewTimer starts timing a step.
func (s *Store) NewTimer(runID int64, step string) *Timer {
	return &Timer{store: s, runID: runID, step: step, start: time.Now()}
}

// Finish records the audit entry for the timed step. Pass a nil err for
// success. Status is inferred from err unless explicitly overridden via
// FinishWithStatus.
func (t *Timer) Finish(ctx context.Context, err error, metadata any) {
	status := AuditSuccess
	message := ""
	if err != nil {
		status = AuditFailure
		message = err.Error()
	}
	t.store.LogStep(ctx, t.runID, t.step, status, message, time.Since(t.start), metadata)
}

// FinishWithStatus records the audit entry with an explicit status
// (used for "skipped", "timeout", and "warning" outcomes that are not a
// simple success/failure dichotomy).
func (t *Timer) FinishWithStatus(ctx context.Context, status AuditStatus, message string, metadata any) {
	t.store.LogStep(ctx, t.runID, t.step, status, message, time.Since(t.start), metadata)
}

// Elapsed returns the duration since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) String() string {
	return fmt.Sprintf("Timer{run=%d step=%s}", t.runID, t.step)
}
