package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/generator"
	"github.com/TenSpy-ai/starbridge/internal/signals"
)

// funcStep adapts a plain closure to step.Step by structural typing,
// so each step body can be written as a closure literal inline at its
// call site instead of a named type per step.
type funcStep struct {
	name    string
	timeout time.Duration
	body    func(ctx context.Context, bb Blackboard) (Delta, error)
}

func (f funcStep) Name() string             { return f.name }
func (f funcStep) Timeout() time.Duration   { return f.timeout }
func (f funcStep) Run(ctx context.Context, bb Blackboard) (Delta, error) {
	return f.body(ctx, bb)
}

func jsonOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func truncateFor(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// s2SearchStrategy builds the search-strategy analyst step, grounded on
// pipeline.py's s2_search_strategy.
func s2SearchStrategy(gen *generator.Client, timeout time.Duration) funcStep {
	return funcStep{name: "s2_search_strategy", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		priorSummary := ""
		if len(bb.PriorRuns) > 0 {
			priorSummary = fmt.Sprintf("%d prior runs for this domain", len(bb.PriorRuns))
		}
		system, user := generator.SearchStrategyPrompt(bb.Webhook.TargetCompany, bb.Webhook.TargetDomain, bb.Webhook.ProductDescription, priorSummary)

		strategy := &generator.SearchStrategy{}
		if gen != nil {
			out, err := gen.Generate(ctx, system, user, timeout)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &CancelledError{}
				}
			} else if parsed := generator.ExtractJSON(out); parsed != nil {
				if b, merr := json.Marshal(parsed); merr == nil {
					_ = json.Unmarshal(b, strategy)
				}
			}
		}
		generator.ApplySearchStrategyDefaults(strategy, bb.Webhook.TargetCompany)

		return func(b *Blackboard) { b.Strategy = strategy }, nil
	}}
}

// s3aPrimarySearch and friends implement Phase IV's discovery branches.

func s3aPrimarySearch(sig *signals.Client, pageSize int, timeout time.Duration) funcStep {
	return funcStep{name: "s3a_primary_search", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		kw := strings.Join(bb.Strategy.PrimaryKeywords, " ")
		opps, err := sig.OpportunitySearch(ctx, kw, []string{"Meeting", "Purchase", "RFP", "Contract"}, pageSize, "date")
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			opps = nil
		}
		return func(b *Blackboard) { b.OpportunitiesPrimary = opps }, nil
	}}
}

func s3bAlternateSearch(sig *signals.Client, pageSize int, timeout time.Duration) funcStep {
	return funcStep{name: "s3b_alternate_search", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		kw := strings.Join(append(append([]string{}, bb.Strategy.AlternateKeywords...), bb.Strategy.RFPKeywords...), " ")
		opps, err := sig.OpportunitySearch(ctx, kw, []string{"Meeting", "Purchase", "RFP", "Contract"}, pageSize, "date")
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			opps = nil
		}
		return func(b *Blackboard) { b.OpportunitiesAlternate = opps }, nil
	}}
}

func s3cBuyerSearchByType(sig *signals.Client, pageSize int, timeout time.Duration) funcStep {
	return funcStep{name: "s3c_buyer_search_by_type", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		var firstWord string
		if len(bb.Strategy.PrimaryKeywords) > 0 {
			fields := strings.Fields(bb.Strategy.PrimaryKeywords[0])
			if len(fields) > 0 {
				firstWord = fields[0]
			}
		}
		buyers, err := sig.BuyerSearch(ctx, firstWord, bb.Strategy.BuyerTypes, nil, pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			buyers = nil
		}
		return func(b *Blackboard) { b.BuyersByType = buyers }, nil
	}}
}

func s3dBuyerSearchByGeo(sig *signals.Client, pageSize int, timeout time.Duration) funcStep {
	return funcStep{name: "s3d_buyer_search_by_geo", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		states := NormalizeStateCodes(bb.Strategy.GeographicHints)
		var firstWord string
		if len(bb.Strategy.PrimaryKeywords) > 0 {
			fields := strings.Fields(bb.Strategy.PrimaryKeywords[0])
			if len(fields) > 0 {
				firstWord = fields[0]
			}
		}
		buyers, err := sig.BuyerSearch(ctx, firstWord, nil, states, pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			buyers = nil
		}
		return func(b *Blackboard) { b.BuyersByGeo = buyers }, nil
	}}
}

// s8ExecSummary is a deterministic template step (no LLM, no external
// call), grounded on pipeline.py's s8_exec_summary.
func s8ExecSummary(buyerLabels map[string]string) funcStep {
	return funcStep{name: "s8_exec_summary", timeout: 5 * time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		signalCount := len(bb.OpportunitiesPrimary) + len(bb.OpportunitiesAlternate)
		var featuredName, featuredType string
		if bb.Featured != nil {
			featuredName, featuredType = bb.Featured.Name, bb.Featured.Type
		}
		buyerCount := 1 + len(bb.Secondary)

		segLabel := "SLED"
		if bb.Strategy != nil && len(bb.Strategy.BuyerTypes) > 0 {
			labels := make([]string, 0, 3)
			for i, t := range bb.Strategy.BuyerTypes {
				if i >= 3 {
					break
				}
				if l, ok := buyerLabels[t]; ok {
					labels = append(labels, l)
				} else {
					labels = append(labels, t)
				}
			}
			segLabel = strings.Join(labels, " and ")
		}
		typeLabel := buyerLabels[featuredType]
		if typeLabel == "" {
			typeLabel = featuredType
		}

		summary := fmt.Sprintf("We scanned **%d procurement signals** across **%d SLED buyers** in the %s space for **%s**. Leading match: **%s**",
			signalCount, buyerCount, segLabel, bb.Webhook.TargetCompany, featuredName)
		if typeLabel != "" {
			summary += fmt.Sprintf(" (%s)", typeLabel)
		}
		summary += ", with the strongest combination of signal recency, urgency, and relevance."

		return func(b *Blackboard) { b.SectionExecSummary = summary }, nil
	}}
}

// s11CTA is a deterministic template step, grounded on pipeline.py's
// s11_cta.
func s11CTA(buyerLabels map[string]string) funcStep {
	return funcStep{name: "s11_cta", timeout: 5 * time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		totalSignals := len(bb.OpportunitiesPrimary) + len(bb.OpportunitiesAlternate)
		buyerCount := 1 + len(bb.Secondary)
		segLabel := "SLED"
		if bb.Strategy != nil && len(bb.Strategy.BuyerTypes) > 0 {
			labels := make([]string, 0, 3)
			for i, t := range bb.Strategy.BuyerTypes {
				if i >= 3 {
					break
				}
				if l, ok := buyerLabels[t]; ok {
					labels = append(labels, l)
				} else {
					labels = append(labels, t)
				}
			}
			segLabel = strings.Join(labels, ", ")
		}

		cta := fmt.Sprintf(
			"## What Starbridge Can Do\n\n"+
				"Starbridge monitors **296,000+ government and education buyers** across all 50 states, "+
				"with **107M+ indexed board meetings and procurement records**. "+
				"For %s targeting %s buyers, we surface:\n\n"+
				"- **Active procurement signals** — RFPs, contract expirations, board discussions, and budget allocations\n"+
				"- **Verified decision-maker contacts** — directors, VPs, superintendents, and budget authorities\n"+
				"- **AI-powered buyer analysis** — strategic context synthesized from public records and FOIA data\n\n"+
				"This scan surfaced **%d signals** across **%d buyers** in the %s space.",
			bb.Webhook.TargetCompany, segLabel, totalSignals, buyerCount, segLabel)

		return func(b *Blackboard) { b.SectionCTA = cta }, nil
	}}
}

// s9FeaturedSection and s10SecondaryCards call the report-writing
// sub-agents; grounded on pipeline.py's s9_featured_section /
// s10_secondary_cards.

func s9FeaturedSection(gen *generator.Client, timeout time.Duration) funcStep {
	return funcStep{name: "s9_featured_section", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		buyerJSON := truncateFor(jsonOf(bb.FeaturedProfile), 3000)
		contactsJSON := truncateFor(jsonOf(bb.FeaturedContacts), 3000)
		oppsJSON := truncateFor(jsonOf(bb.FeaturedOpportunities), 4000)
		system, user := generator.FeaturedSectionPrompt(bb.Webhook.TargetCompany, buyerJSON, contactsJSON, oppsJSON, bb.FeaturedAIContext)

		var section string
		var err error
		if gen != nil {
			section, err = gen.Generate(ctx, system, user, timeout)
		} else {
			err = fmt.Errorf("generator: not configured")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			var name, typ string
			if bb.Featured != nil {
				name, typ = bb.Featured.Name, bb.Featured.Type
			}
			section = fmt.Sprintf("> **%s** | %s\n\n*Featured buyer section generation failed; data was collected but the writer was unavailable.*", name, typ)
		}
		return func(b *Blackboard) { b.SectionFeatured = section }, nil
	}}
}

func s10SecondaryCards(gen *generator.Client, timeout time.Duration) funcStep {
	return funcStep{name: "s10_secondary_cards", timeout: timeout, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		if len(bb.Secondary) == 0 {
			return func(b *Blackboard) { b.SectionSecondary = "" }, nil
		}
		buyersJSON := truncateFor(jsonOf(bb.Secondary), 4000)
		system, user := generator.SecondaryCardsPrompt(bb.Webhook.TargetCompany, bb.Webhook.ProductDescription, buyersJSON)

		var section string
		var err error
		if gen != nil {
			section, err = gen.Generate(ctx, system, user, timeout)
		} else {
			err = fmt.Errorf("generator: not configured")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			var cards []string
			for _, s := range bb.Secondary {
				cards = append(cards, fmt.Sprintf("**%s** | %s\n- Top Signal: %s", s.Name, s.Type, topSignalSummary(s)))
			}
			section = strings.Join(cards, "\n\n")
		}
		return func(b *Blackboard) { b.SectionSecondary = section }, nil
	}}
}

func topSignalSummary(b ScoredBuyer) string {
	if len(b.Signals) == 0 {
		return "N/A"
	}
	return b.Signals[0].Title
}
