package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/signals"
)

// featuredIntel fetches profile, contacts, and the AI narrative for the
// featured buyer. Profile/contacts/chat failures are swallowed and
// logged as partial data — grounded on pipeline.py's s6_featured_intel,
// which treats all three calls as non-blocking. A context cancellation
// is the one failure mode that is NOT swallowed, since spec.md §8
// scenario 4 requires a mid-s6 cancellation to abort the whole run.
func featuredIntel(sig *signals.Client, pollInterval, maxWait time.Duration) funcStep {
	return funcStep{name: "s6_featured_intel", timeout: maxWait + 10*time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		if bb.Featured == nil {
			return nil, NewValidationError("s6_featured_intel: no featured buyer selected")
		}
		buyerID := bb.Featured.BuyerID
		buyerName := bb.Featured.Name

		var profile signals.Record
		if p, err := sig.BuyerProfile(ctx, buyerID); err == nil {
			profile = p
		} else if ctx.Err() != nil {
			return nil, &CancelledError{}
		}

		var contacts []signals.Record
		if c, err := sig.BuyerContacts(ctx, buyerID, 50); err == nil {
			contacts = c
		} else if ctx.Err() != nil {
			return nil, &CancelledError{}
		}

		question := fmt.Sprintf(
			"What are %s's key strategic priorities, recent technology initiatives, major "+
				"procurement activity, and any leadership changes in the past 12 months? Include "+
				"specific initiative names, dollar amounts, and dates where available.", buyerName)

		var aiCtx string
		chat, err := sig.BuyerChat(ctx, buyerID, question, pollInterval, maxWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &CancelledError{}
			}
			// timeout or external error: non-blocking, leave aiCtx empty.
		} else if chat != nil {
			if s, ok := chat["ai_response"].(string); ok {
				aiCtx = s
			} else if s, ok := chat["response"].(string); ok {
				aiCtx = s
			} else if s, ok := chat["answer"].(string); ok {
				aiCtx = s
			}
		}

		var opps []signals.Record
		for _, o := range bb.OpportunitiesPrimary {
			if id, _ := o["buyerId"].(string); id == buyerID {
				opps = append(opps, o)
			}
		}
		for _, o := range bb.OpportunitiesAlternate {
			if id, _ := o["buyerId"].(string); id == buyerID {
				opps = append(opps, o)
			}
		}

		return func(b *Blackboard) {
			b.FeaturedProfile = profile
			b.FeaturedContacts = contacts
			b.FeaturedOpportunities = opps
			b.FeaturedAIContext = aiCtx
		}, nil
	}}
}

// secondaryIntel fetches profile + contacts for each secondary buyer in
// parallel, capped at len(bb.Secondary) (already capped to
// MaxSecondaryBuyers by rank.Select). Grounded on pipeline.py's
// s7_secondary_intel.
func secondaryIntel(sig *signals.Client) funcStep {
	return funcStep{name: "s7_secondary_intel", timeout: 25 * time.Second, body: func(ctx context.Context, bb Blackboard) (Delta, error) {
		if len(bb.Secondary) == 0 {
			return func(b *Blackboard) {
				b.SecondaryProfiles = map[string]signals.Record{}
				b.SecondaryContacts = map[string][]signals.Record{}
			}, nil
		}

		type result struct {
			id       string
			profile  signals.Record
			contacts []signals.Record
		}
		out := make(chan result, len(bb.Secondary))
		cancelled := make(chan struct{}, 1)

		for _, s := range bb.Secondary {
			go func(s ScoredBuyer) {
				var profile signals.Record
				if p, err := sig.BuyerProfile(ctx, s.BuyerID); err == nil {
					profile = p
				} else if ctx.Err() != nil {
					select {
					case cancelled <- struct{}{}:
					default:
					}
				}
				var contacts []signals.Record
				if c, err := sig.BuyerContacts(ctx, s.BuyerID, 20); err == nil {
					contacts = c
				}
				out <- result{id: s.BuyerID, profile: profile, contacts: contacts}
			}(s)
		}

		profiles := map[string]signals.Record{}
		contactsByID := map[string][]signals.Record{}
		for range bb.Secondary {
			r := <-out
			profiles[r.id] = r.profile
			contactsByID[r.id] = r.contacts
		}

		select {
		case <-cancelled:
			return nil, &CancelledError{}
		default:
		}

		return func(b *Blackboard) {
			b.SecondaryProfiles = profiles
			b.SecondaryContacts = contactsByID
		}, nil
	}}
}
