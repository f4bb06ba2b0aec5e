package pipeline

import "github.com/TenSpy-ai/starbridge/internal/pipeline/model"

// These are aliases, not redeclarations: the real definitions live in
// the leaf model package so step/rank/validate/fanout can depend on
// them without importing this package back (see model.go's doc
// comment). Keeping the bare names here means orchestrator.go,
// steps.go, and phase6.go read exactly as they did before the types
// moved.
type (
	Blackboard       = model.Blackboard
	Delta            = model.Delta
	ScoredBuyer      = model.ScoredBuyer
	BuyerSignal      = model.BuyerSignal
	ValidationResult = model.ValidationResult

	ValidationError = model.ValidationError
	TimeoutError    = model.TimeoutError
	CancelledError  = model.CancelledError
	ExternalError   = model.ExternalError
	StoreError      = model.StoreError
	Warning         = model.Warning
)

// NewValidationError builds a ValidationError.
var NewValidationError = model.NewValidationError
