// Package pipeline implements the orchestrator: the 18-step directed
// workflow with fan-out/fan-in parallelism, per-step timeouts,
// cancellation, audit logging, partial-failure persistence, and
// deterministic buyer scoring. Grounded step-for-step on
// original_source/agent/pipeline.py, with the concurrency shape of
// tarsy's pkg/agent/orchestrator/runner.go.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/generator"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/fanout"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/rank"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/step"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/validate"
	"github.com/TenSpy-ai/starbridge/internal/publisher"
	"github.com/TenSpy-ai/starbridge/internal/signals"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

// Orchestrator wires every collaborator and drives the s0-s14 phase
// graph, grounded on tarsy's pkg/agent/orchestrator/runner.go for
// concurrency shape and original_source/agent/pipeline.py for the
// phase/step semantics.
type Orchestrator struct {
	Store     *store.Store
	Signals   *signals.Client
	Generator *generator.Client
	Publisher *publisher.Client
	Config    *config.Registry

	// MCPServerURL and PublisherAPIKeyEnv configure the assembler
	// sub-agent's tool-mode publish call (spec.md §4.3 bullet 4). When
	// MCPServerURL is empty, s12 falls back to publishing directly
	// through the Publisher client without a round trip through the
	// generator — used in tests and when no generator is configured.
	MCPServerURL       string
	PublisherAPIKeyEnv string
	ParentPageID       string
}

// Outcome is the terminal classification of a Run call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// RunResult is what the API layer turns into a response payload.
type RunResult struct {
	Outcome    Outcome
	Blackboard *Blackboard
	Err        error
	Elapsed    time.Duration
}

// Run executes the full pipeline for one webhook. preAssignedRunID is
// non-zero when the row already exists in status pending, as it does
// for every run submitted through the admission controller, single or
// batch (spec.md §4.6 s0 "optionally accept a pre-assigned run_id").
func (o *Orchestrator) Run(ctx context.Context, wh store.Webhook, preAssignedRunID int64, batchID string) RunResult {
	start := time.Now()
	cfg := o.Config.Snapshot()

	bb := Blackboard{Webhook: wh, StartTime: start}

	// s0 parse-webhook: validate required fields.
	if wh.TargetDomain == "" && wh.TargetCompany == "" {
		return RunResult{Outcome: OutcomeFailed, Err: NewValidationError("webhook must include target_domain or target_company"), Elapsed: time.Since(start)}
	}

	// s1 validate-and-load: establish the run row, load prior runs.
	runID, err := o.admitRun(ctx, wh, preAssignedRunID, batchID)
	if err != nil {
		return RunResult{Outcome: OutcomeFailed, Err: err, Elapsed: time.Since(start)}
	}
	bb.RunID = runID

	if wh.TargetDomain != "" && cfg.DedupLookbackLimit > 0 {
		if prior, err := o.Store.LoadPriorRuns(ctx, wh.TargetDomain, cfg.DedupLookbackLimit); err == nil {
			bb.PriorRuns = prior
		}
	}

	result := o.runPhases(ctx, runID, bb, cfg)

	if result.Outcome == OutcomeCancelled {
		_ = o.Store.UpdateRunCancelled(ctx, runID)
		o.Store.LogStep(ctx, runID, "pipeline_cancelled", store.AuditFailure, "run cancelled", time.Since(start), nil)
	}
	result.Elapsed = time.Since(start)
	return result
}

// admitRun creates or claims the run row. Mirrors db.py's
// insert_run_stub / mark_processing split.
func (o *Orchestrator) admitRun(ctx context.Context, wh store.Webhook, preAssignedRunID int64, batchID string) (int64, error) {
	if preAssignedRunID != 0 {
		ok, err := o.Store.MarkProcessing(ctx, preAssignedRunID)
		if err != nil {
			return 0, &StoreError{Op: "mark_processing", Err: err}
		}
		if !ok {
			return 0, fmt.Errorf("store: run %d is not in pending status", preAssignedRunID)
		}
		return preAssignedRunID, nil
	}
	id, err := o.Store.InsertRunStub(ctx, wh, batchID)
	if err != nil {
		return 0, &StoreError{Op: "insert_run_stub", Err: err}
	}
	if _, err := o.Store.MarkProcessing(ctx, id); err != nil {
		return 0, &StoreError{Op: "mark_processing", Err: err}
	}
	return id, nil
}

func (o *Orchestrator) exec(ctx context.Context, runID int64, s funcStep, bb Blackboard) step.Result {
	return step.Execute(ctx, o.Store, runID, s, bb)
}

// runPhases drives phases III through VII. Phases I/II (s0/s1) already
// ran in Run before the blackboard had a run id.
func (o *Orchestrator) runPhases(ctx context.Context, runID int64, bb Blackboard, cfg config.Defaults) RunResult {
	// Phase III: search strategy.
	r := o.exec(ctx, runID, s2SearchStrategy(o.Generator, cfg.LLMTextTimeout), bb)
	if rr, done := earlyExit(r, bb); done {
		return rr
	}
	bb.Merge(r.Delta)

	// Phase IV: 4 parallel discovery branches, with skip-if-empty-input
	// steps for s3b/s3c/s3d (spec.md §4.6).
	discoveryResult, cancelled := o.runDiscovery(ctx, runID, bb, cfg)
	if cancelled {
		return RunResult{Outcome: OutcomeCancelled, Blackboard: &bb}
	}
	for _, dr := range discoveryResult {
		bb.Merge(dr.Delta)
	}

	// s4 rank-and-select (deterministic).
	rankStep := funcStep{name: "s4_rank_and_select", timeout: 5 * time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		allOpps := make([]signals.Record, 0, len(bb.OpportunitiesPrimary)+len(bb.OpportunitiesAlternate))
		allOpps = append(allOpps, bb.OpportunitiesPrimary...)
		allOpps = append(allOpps, bb.OpportunitiesAlternate...)
		featured, secondary, err := rank.Select(allOpps, bb.BuyersByType, bb.BuyersByGeo,
			bb.Strategy.PrimaryKeywords, bb.Strategy.IdealBuyerProfile, bb.Strategy.BuyerTypes, cfg.MaxSecondaryBuyers)
		if err != nil {
			return nil, err
		}
		return func(b *Blackboard) { b.Featured = featured; b.Secondary = secondary }, nil
	}}
	r = o.exec(ctx, runID, rankStep, bb)
	if r.Outcome != step.OutcomeSuccess {
		_ = o.Store.UpdateRunFailed(ctx, runID, errString(r.Err), nil)
		return RunResult{Outcome: OutcomeFailed, Blackboard: &bb, Err: r.Err}
	}
	bb.Merge(r.Delta)

	// s5 persist-discovery.
	persistStep := funcStep{name: "s5_persist_discovery", timeout: 10 * time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		discoveries := make([]store.Discovery, 0, 1+len(bb.Secondary))
		discoveries = append(discoveries, toDiscoveryRow(*bb.Featured))
		for _, s := range bb.Secondary {
			discoveries = append(discoveries, toDiscoveryRow(s))
		}
		if err := o.Store.InsertDiscoveries(ctx, bb.RunID, bb.Webhook.TargetDomain, discoveries); err != nil {
			return nil, &StoreError{Op: "insert_discoveries", Err: err}
		}
		if err := o.Store.UpdateRunDiscovery(ctx, bb.RunID, store.DiscoveryPartial{
			SearchStrategy:     bb.Strategy,
			DiscoverySignalsA:  bb.OpportunitiesPrimary,
			DiscoverySignalsB:  bb.OpportunitiesAlternate,
			DiscoveryBuyers:    bb.BuyersByType,
			FeaturedBuyerID:    bb.Featured.BuyerID,
			FeaturedBuyerName:  bb.Featured.Name,
			FeaturedBuyerType:  bb.Featured.Type,
			SelectionRationale: bb.Featured.Rationale,
			SecondaryBuyers:    bb.Secondary,
		}); err != nil {
			return nil, &StoreError{Op: "update_run_discovery", Err: err}
		}
		return func(*Blackboard) {}, nil
	}}
	r = o.exec(ctx, runID, persistStep, bb)
	if r.Outcome != step.OutcomeSuccess {
		_ = o.Store.UpdateRunFailed(ctx, runID, errString(r.Err), nil)
		return RunResult{Outcome: OutcomeFailed, Blackboard: &bb, Err: r.Err}
	}

	// Phase VI: 4 parallel branches (s6->s9, s7->s10, s8, s11).
	phase6Delta, cancelled := o.runPhase6(ctx, runID, bb, cfg)
	if cancelled {
		return RunResult{Outcome: OutcomeCancelled, Blackboard: &bb}
	}
	bb.Merge(phase6Delta)

	// s12 assemble-and-publish.
	r = o.exec(ctx, runID, o.assembleAndPublish(cfg), bb)
	if r.Outcome != step.OutcomeSuccess {
		_ = o.Store.UpdateRunFailed(ctx, runID, errString(r.Err), nil)
		return RunResult{Outcome: OutcomeFailed, Blackboard: &bb, Err: r.Err}
	}
	bb.Merge(r.Delta)

	// s13 validate, with corrective fix path.
	r = o.exec(ctx, runID, o.validateStep(cfg), bb)
	if r.Outcome == step.OutcomeSuccess {
		bb.Merge(r.Delta)
	}

	// s14 save-and-respond.
	if err := o.saveAndRespond(ctx, bb); err != nil {
		o.Store.LogStep(ctx, runID, "s14_save_and_respond", store.AuditFailure, err.Error(), 0, nil)
	}

	bb.Completed = true
	return RunResult{Outcome: OutcomeCompleted, Blackboard: &bb}
}

// earlyExit reports whether a step result is terminal for the run
// (anything but success), and builds the RunResult to return in that
// case.
func earlyExit(r step.Result, bb Blackboard) (RunResult, bool) {
	if r.Outcome == step.OutcomeSuccess {
		return RunResult{}, false
	}
	if _, ok := r.Err.(*CancelledError); ok {
		return RunResult{Outcome: OutcomeCancelled, Blackboard: &bb}, true
	}
	return RunResult{Outcome: OutcomeFailed, Blackboard: &bb, Err: r.Err}, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toDiscoveryRow(b ScoredBuyer) store.Discovery {
	d := store.Discovery{BuyerID: b.BuyerID, BuyerName: b.Name, SignalScore: b.Score}
	if len(b.Signals) > 0 {
		d.SignalType = b.Signals[0].Type
		d.SignalSummary = b.Signals[0].Title
	}
	return d
}

// runDiscovery dispatches s3a-s3d concurrently via fanout.Run. b/c/d
// skip when their preconditions are unmet (spec.md §4.6).
func (o *Orchestrator) runDiscovery(ctx context.Context, runID int64, bb Blackboard, cfg config.Defaults) ([]step.Result, bool) {
	skipReasons := map[string]string{}
	if len(bb.Strategy.AlternateKeywords) == 0 && len(bb.Strategy.RFPKeywords) == 0 {
		skipReasons["s3b_alternate_search"] = "no alternate or rfp keywords"
	}
	if len(bb.Strategy.BuyerTypes) == 0 {
		skipReasons["s3c_buyer_search_by_type"] = "no buyer types in strategy"
	}
	if len(bb.Strategy.GeographicHints) == 0 {
		skipReasons["s3d_buyer_search_by_geo"] = "no geographic hints in strategy"
	}

	branches := []fanout.Branch{
		{Step: s3aPrimarySearch(o.Signals, cfg.OpportunityPageSize, cfg.StepTimeouts.S3a)},
		{Step: s3bAlternateSearch(o.Signals, cfg.OpportunityPageSize, cfg.StepTimeouts.S3b)},
		{Step: s3cBuyerSearchByType(o.Signals, cfg.BuyerSearchPageSize, cfg.StepTimeouts.S3c)},
		{Step: s3dBuyerSearchByGeo(o.Signals, cfg.BuyerSearchPageSize, cfg.StepTimeouts.S3d)},
	}

	results := fanout.Run(ctx, func(ctx context.Context, s step.Step) step.Result {
		if reason, skip := skipReasons[s.Name()]; skip {
			return step.Skip(ctx, o.Store, runID, s.Name(), reason)
		}
		return step.Execute(ctx, o.Store, runID, s, bb)
	}, branches)

	for _, r := range results {
		if _, ok := r.Err.(*CancelledError); ok {
			return results, true
		}
	}
	return results, false
}

// runPhase6 runs the 4 independent chains of Phase VI concurrently:
// s6->s9 (featured), s7->s10 (secondary), s8 (exec summary), s11 (CTA).
func (o *Orchestrator) runPhase6(ctx context.Context, runID int64, bb Blackboard, cfg config.Defaults) (Delta, bool) {
	type chainResult struct {
		delta     Delta
		cancelled bool
	}
	out := make(chan chainResult, 4)

	go func() {
		r := o.exec(ctx, runID, featuredIntel(o.Signals, cfg.BuyerChatPollInterval, cfg.BuyerChatMaxWait), bb)
		if _, ok := r.Err.(*CancelledError); ok {
			out <- chainResult{cancelled: true}
			return
		}
		local := bb
		local.Merge(r.Delta)
		r2 := o.exec(ctx, runID, s9FeaturedSection(o.Generator, cfg.LLMTextTimeout), local)
		if _, ok := r2.Err.(*CancelledError); ok {
			out <- chainResult{cancelled: true}
			return
		}
		out <- chainResult{delta: func(b *Blackboard) {
			local.Merge(r2.Delta)
			b.FeaturedProfile = local.FeaturedProfile
			b.FeaturedContacts = local.FeaturedContacts
			b.FeaturedOpportunities = local.FeaturedOpportunities
			b.FeaturedAIContext = local.FeaturedAIContext
			b.SectionFeatured = local.SectionFeatured
		}}
	}()

	go func() {
		r := o.exec(ctx, runID, secondaryIntel(o.Signals), bb)
		if _, ok := r.Err.(*CancelledError); ok {
			out <- chainResult{cancelled: true}
			return
		}
		local := bb
		local.Merge(r.Delta)
		r2 := o.exec(ctx, runID, s10SecondaryCards(o.Generator, cfg.LLMTextTimeout), local)
		if _, ok := r2.Err.(*CancelledError); ok {
			out <- chainResult{cancelled: true}
			return
		}
		out <- chainResult{delta: func(b *Blackboard) {
			local.Merge(r2.Delta)
			b.SecondaryProfiles = local.SecondaryProfiles
			b.SecondaryContacts = local.SecondaryContacts
			b.SectionSecondary = local.SectionSecondary
		}}
	}()

	go func() {
		r := o.exec(ctx, runID, s8ExecSummary(cfg.BuyerTypeLabel), bb)
		out <- chainResult{delta: r.Delta}
	}()

	go func() {
		r := o.exec(ctx, runID, s11CTA(cfg.BuyerTypeLabel), bb)
		out <- chainResult{delta: r.Delta}
	}()

	var deltas []Delta
	anyCancelled := false
	for i := 0; i < 4; i++ {
		r := <-out
		if r.cancelled {
			anyCancelled = true
			continue
		}
		if r.delta != nil {
			deltas = append(deltas, r.delta)
		}
	}
	if anyCancelled {
		return nil, true
	}
	return func(b *Blackboard) {
		for _, d := range deltas {
			b.Merge(d)
		}
	}, false
}

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

// assemble builds the final report markdown deterministically, grounded
// on pipeline.py's s13_assemble (header + exec summary + featured +
// secondary + cta + footer, joined by horizontal rules).
func assemble(bb Blackboard, now time.Time) string {
	header := fmt.Sprintf("# 📊 %s — Intelligence Report for %s", bb.Featured.Name, bb.Webhook.TargetCompany)

	footer := fmt.Sprintf("*Generated Starbridge Intelligence %s*\n\n", now.Format("January 2006"))
	if bb.FeaturedAIContext != "" {
		footer += "*Data source: Starbridge buyer profile, contacts, AI analysis, and opportunity database*"
	} else {
		footer += "*Data source: Starbridge buyer profile, contacts, and opportunity database. AI analysis was unavailable.*"
	}

	sections := []string{header, bb.SectionExecSummary, bb.SectionFeatured, bb.SectionSecondary, bb.SectionCTA, footer}
	var parts []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	report := strings.Join(parts, "\n\n---\n\n")
	return collapseBlankLines.ReplaceAllString(report, "\n\n")
}

// assembleAndPublish builds s12: assemble the report, then publish it,
// retrying the whole step once on failure (spec.md §4.6 "s12 retries
// once").
func (o *Orchestrator) assembleAndPublish(cfg config.Defaults) funcStep {
	return funcStep{name: "s12_assemble_and_publish", timeout: cfg.StepTimeouts.S12, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		report, url, err := o.tryAssembleAndPublish(ctx, bb, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			report, url, err = o.tryAssembleAndPublish(ctx, bb, cfg)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &CancelledError{}
				}
				return nil, &ExternalError{Source: "publisher", Err: err}
			}
		}
		return func(b *Blackboard) { b.ReportMarkdown = report; b.PublishedURL = url }, nil
	}}
}

func (o *Orchestrator) tryAssembleAndPublish(ctx context.Context, bb Blackboard, cfg config.Defaults) (string, string, error) {
	report := assemble(bb, time.Now())

	if o.MCPServerURL != "" && o.Generator != nil {
		sections := []string{bb.SectionExecSummary, bb.SectionFeatured, bb.SectionSecondary, bb.SectionCTA}
		toolAlias := o.Config.Snapshot().PublisherToolAlias
		title := fmt.Sprintf("%s — Intelligence Report for %s", bb.Featured.Name, bb.Webhook.TargetCompany)
		system, user := generator.AssemblerPrompt(sections, title, toolAlias)
		out, err := o.Generator.GenerateWithTools(ctx, system, user, o.MCPServerURL, o.PublisherAPIKeyEnv, []string{toolAlias}, cfg.LLMToolTimeout)
		if err == nil {
			if assembled, url, perr := generator.ParseAssemblerOutput(out); perr == nil {
				return assembled, url, nil
			}
		}
	}

	page, err := o.Publisher.CreatePage(ctx, fmt.Sprintf("%s — Intelligence Report for %s", bb.Featured.Name, bb.Webhook.TargetCompany), report, o.ParentPageID)
	if err != nil {
		return "", "", err
	}
	return report, page.URL, nil
}

// validateStep runs s13, applying the corrective fix path when findings
// exist. Exactly one s13_validate audit row is emitted per run: Execute
// logs it as "success" when vr has no findings, or — via the returned
// Warning — as "warning" carrying the errors/warnings list when it does
// (spec.md §8 scenario 5). The s13_fix_report / s13_notion_update rows
// the fix path logs are separate step names and unaffected.
func (o *Orchestrator) validateStep(cfg config.Defaults) funcStep {
	return funcStep{name: "s13_validate", timeout: cfg.StepTimeouts.S13, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		result := validate.Run(ctx, *bb.Featured, bb.Webhook.TargetCompany, bb.ReportMarkdown, bb.Secondary, time.Now(), o.Generator, cfg.LLMTextTimeout)
		vr := &ValidationResult{Errors: result.Errors, Warnings: result.Warnings}

		if !vr.HasFindings() {
			return func(b *Blackboard) { b.ValidationResult = vr }, nil
		}
		findings := map[string]any{"errors": vr.Errors, "warnings": vr.Warnings}

		if o.Generator == nil {
			return func(b *Blackboard) { b.ValidationResult = vr }, &Warning{Msg: "findings present", Metadata: findings}
		}

		fixed, url, err := validate.Fix(ctx, o.Generator, o.Publisher, bb.Featured.Name, bb.ReportMarkdown, pageIDFromURL(bb.PublishedURL), vr, cfg.LLMTextTimeout)
		o.Store.LogStep(ctx, bb.RunID, "s13_fix_report", store.AuditSuccess, "", 0, nil)
		if err != nil {
			return func(b *Blackboard) { b.ValidationResult = vr }, &Warning{Msg: "findings present, fix attempt failed", Metadata: findings}
		}
		vr.Fixed = true
		if url != "" {
			o.Store.LogStep(ctx, bb.RunID, "s13_notion_update", store.AuditSuccess, "", 0, nil)
		}
		return func(b *Blackboard) {
			b.ReportMarkdown = fixed
			if url != "" {
				b.PublishedURL = url
			}
			b.ValidationResult = vr
		}, &Warning{Msg: "findings present, corrected", Metadata: findings}
	}}
}

func pageIDFromURL(url string) string {
	idx := strings.LastIndex(url, "/")
	if idx == -1 {
		return url
	}
	return url[idx+1:]
}

// saveAndRespond persists the final report and featured contacts.
func (o *Orchestrator) saveAndRespond(ctx context.Context, bb Blackboard) error {
	if err := o.Store.UpdateRunCompleted(ctx, bb.RunID, store.CompletedPartial{
		FeatProfile:        bb.FeaturedProfile,
		FeatContacts:       bb.FeaturedContacts,
		FeatOpportunities:  bb.FeaturedOpportunities,
		FeatAIContext:      bb.FeaturedAIContext,
		SecProfiles:        bb.SecondaryProfiles,
		SecContacts:        bb.SecondaryContacts,
		SectionExecSummary: bb.SectionExecSummary,
		SectionFeatured:    bb.SectionFeatured,
		SectionSecondary:   bb.SectionSecondary,
		SectionCTA:         bb.SectionCTA,
		ReportMarkdown:     bb.ReportMarkdown,
		ValidationResult:   bb.ValidationResult,
		NotionURL:          bb.PublishedURL,
	}); err != nil {
		return &StoreError{Op: "update_run_completed", Err: err}
	}

	if len(bb.FeaturedContacts) > 0 && bb.Featured != nil {
		contacts := make([]store.Contact, 0, len(bb.FeaturedContacts))
		for _, c := range bb.FeaturedContacts {
			contacts = append(contacts, store.Contact{
				BuyerID:       bb.Featured.BuyerID,
				ContactName:   strField(c, "name"),
				ContactTitle:  strField(c, "title"),
				ContactEmail:  strField(c, "email"),
				EmailVerified: boolField(c, "emailVerified"),
			})
		}
		if err := o.Store.InsertContacts(ctx, bb.RunID, contacts); err != nil {
			return &StoreError{Op: "insert_contacts", Err: err}
		}
	}
	return nil
}

func strField(r signals.Record, key string) string {
	s, _ := r[key].(string)
	return s
}

func boolField(r signals.Record, key string) bool {
	b, _ := r[key].(bool)
	return b
}
