// Package model holds the blackboard and scoring types shared by the
// orchestrator and every leaf step package (step, rank, validate,
// fanout). It sits below pipeline in the import graph on purpose: the
// orchestrator and its step packages both need these types, but a leaf
// step package must never import the orchestrator package back, so the
// types live here instead of in package pipeline itself.
package model

import (
	"time"

	"github.com/TenSpy-ai/starbridge/internal/generator"
	"github.com/TenSpy-ai/starbridge/internal/signals"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

// Blackboard is the typed, in-memory state threaded through the step
// graph. This replaces the source's dynamic string-keyed mapping per
// spec.md §9's REDESIGN FLAG: each key here is a named, optional field
// with exactly one producer step, so producer/consumer mismatches are
// compile errors rather than runtime KeyErrors.
type Blackboard struct {
	// Webhook / admission (s0, s1)
	Webhook   store.Webhook
	RunID     int64
	StartTime time.Time
	PriorRuns []store.Run

	// Search strategy (s2)
	Strategy *generator.SearchStrategy

	// Discovery (s3a-d)
	OpportunitiesPrimary   []signals.Record
	OpportunitiesAlternate []signals.Record
	BuyersByType           []signals.Record
	BuyersByGeo            []signals.Record

	// Ranking (s4)
	Featured  *ScoredBuyer
	Secondary []ScoredBuyer

	// Featured intel (s6)
	FeaturedProfile       signals.Record
	FeaturedContacts      []signals.Record
	FeaturedOpportunities []signals.Record
	FeaturedAIContext     string

	// Secondary intel (s7)
	SecondaryProfiles map[string]signals.Record
	SecondaryContacts map[string][]signals.Record

	// Sections (s8, s9, s10, s11)
	SectionExecSummary string
	SectionFeatured    string
	SectionSecondary   string
	SectionCTA         string

	// Assembly + validation (s12, s13)
	ReportMarkdown   string
	PublishedURL     string
	ValidationResult *ValidationResult

	// Completion
	Completed bool
}

// Delta is the subset of blackboard fields a single step produces. The
// orchestrator merges a Delta into the running Blackboard after each
// step completes; parallel steps within a phase write disjoint fields
// so merges are order-independent (spec.md §4.6 ordering guarantees).
type Delta func(*Blackboard)

// Merge applies a Delta to the blackboard.
func (b *Blackboard) Merge(d Delta) {
	if d != nil {
		d(b)
	}
}

// ScoredBuyer is one ranked buyer candidate (spec.md §4.6 ranking
// algorithm output).
type ScoredBuyer struct {
	BuyerID   string
	Name      string
	Type      string
	Signals   []BuyerSignal
	Score     float64
	Rationale string
}

// BuyerSignal is one procurement signal attributed to a buyer.
type BuyerSignal struct {
	Type    string
	Title   string
	Summary string
	Date    string
	Amount  float64
}

// ValidationResult is the outcome of s13's checks.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Fixed    bool
}

// HasFindings reports whether any error or warning was recorded.
func (v *ValidationResult) HasFindings() bool {
	return v != nil && (len(v.Errors) > 0 || len(v.Warnings) > 0)
}
