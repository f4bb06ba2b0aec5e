package model

import "fmt"

// ValidationError signals malformed input or an empty candidate set
// (spec.md §7). Fails the run; maps to HTTP 422 at the API boundary.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError signals a step exceeded its budget.
type TimeoutError struct {
	Step string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("step %s exceeded its timeout", e.Step) }

// CancelledError signals the cancellation token fired. Not treated as
// an error at the API boundary.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "pipeline cancelled" }

// Warning signals that a step body completed successfully but wants
// its audit row logged with a "warning" status and the given message
// and metadata instead of step.Execute's default "success" row (e.g.
// s13_validate when findings are present, spec.md §8 scenario 5). It
// is not a failure: the step's Outcome stays success and its Delta is
// still merged.
type Warning struct {
	Msg      string
	Metadata any
}

func (e *Warning) Error() string { return e.Msg }

// ExternalError wraps a Signals/Publisher/Generator non-success.
type ExternalError struct {
	Source string
	Err    error
}

func (e *ExternalError) Error() string { return fmt.Sprintf("%s: %v", e.Source, e.Err) }
func (e *ExternalError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. Fatal only for run-row
// writes; audit writes never surface this (store.LogStep swallows its
// own errors per spec.md §7).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
