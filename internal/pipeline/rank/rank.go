// Package rank implements the deterministic buyer scoring algorithm,
// grounded line-for-line on original_source/agent/pipeline.py's
// s4_rank_and_select.
package rank

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/signals"
)

// buyerAccum accumulates the raw inputs for one buyer before scoring.
type buyerAccum struct {
	id      string
	name    string
	typ     string
	signals []model.BuyerSignal
	order   int // insertion order, for stable tie-breaking
}

var urgentTypes = map[string]bool{"RFP": true, "Contract": true, "Contract Expiration": true}
var urgentTitleTokens = []string{"deadline", "expir", "due date", "rfp"}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "have": true, "will": true, "your": true,
}

var dollarRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// Select builds the buyer map from discovery results, scores every
// buyer, and returns the featured buyer plus up to maxSecondary
// secondaries. Returns a ValidationError if the union of candidates is
// empty (spec.md §4.6 "Must raise a domain error if the union of
// candidates is empty").
func Select(opportunities []signals.Record, buyersByType, buyersByGeo []signals.Record, primaryKeywords []string, idealBuyerProfile string, strategyBuyerTypes []string, maxSecondary int) (*model.ScoredBuyer, []model.ScoredBuyer, error) {
	accums := map[string]*buyerAccum{}
	order := 0

	getOrCreate := func(id, name, typ string) *buyerAccum {
		a, ok := accums[id]
		if !ok {
			a = &buyerAccum{id: id, name: name, typ: typ, order: order}
			order++
			accums[id] = a
		}
		if a.name == "" {
			a.name = name
		}
		if a.typ == "" {
			a.typ = typ
		}
		return a
	}

	for _, opp := range opportunities {
		id := str(opp["buyerId"])
		if id == "" {
			continue
		}
		a := getOrCreate(id, str(opp["buyerName"]), str(opp["buyerType"]))
		a.signals = append(a.signals, signalFromOpportunity(opp))
	}
	for _, b := range buyersByType {
		id := str(b["buyerId"])
		if id == "" {
			continue
		}
		getOrCreate(id, str(b["name"]), str(b["type"]))
	}
	for _, b := range buyersByGeo {
		id := str(b["buyerId"])
		if id == "" {
			continue
		}
		getOrCreate(id, str(b["name"]), str(b["type"]))
	}

	if len(accums) == 0 {
		return nil, nil, model.NewValidationError("No buyers found across any discovery branch")
	}

	kwTokens := keywordTokens(primaryKeywords, idealBuyerProfile)

	type computed struct {
		a         *buyerAccum
		sigCount  int
		recency   float64
		urgency   float64
		maxDollar float64
		kwHits    int
		typeMatch float64
	}

	list := make([]*buyerAccum, 0, len(accums))
	for _, a := range accums {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })

	computedList := make([]computed, 0, len(list))
	maxSig, maxDol, maxKw := 1, 1.0, 1
	for _, a := range list {
		c := computed{a: a}
		c.sigCount = len(a.signals)
		c.recency = recencyScore(a.signals)
		c.urgency = urgencyScore(a.signals)
		c.maxDollar = maxDollarAmount(a.signals)
		c.kwHits = keywordHits(a.signals, kwTokens)
		c.typeMatch = typeMatchScore(a.typ, strategyBuyerTypes)
		computedList = append(computedList, c)

		if c.sigCount > maxSig {
			maxSig = c.sigCount
		}
		if c.maxDollar > maxDol {
			maxDol = c.maxDollar
		}
		if c.kwHits > maxKw {
			maxKw = c.kwHits
		}
	}

	scored := make([]model.ScoredBuyer, 0, len(computedList))
	for _, c := range computedList {
		score := 0.25*c.typeMatch +
			0.20*(float64(c.sigCount)/float64(maxSig)) +
			0.20*c.recency +
			0.15*c.urgency +
			0.10*(c.maxDollar/maxDol) +
			0.10*(float64(c.kwHits)/float64(maxKw))

		scored = append(scored, model.ScoredBuyer{
			BuyerID: c.a.id,
			Name:    c.a.name,
			Type:    c.a.typ,
			Signals: c.a.signals,
			Score:   score,
		})
	}

	// Stable sort descending by score; ties broken by insertion order
	// (spec.md: "Ties are broken by stable ordering (insertion order)").
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	featured := scored[0]
	featured.Rationale = buildRationale(featured)

	secondEnd := 1 + maxSecondary
	if secondEnd > len(scored) {
		secondEnd = len(scored)
	}
	secondary := append([]model.ScoredBuyer{}, scored[1:secondEnd]...)

	return &featured, secondary, nil
}

func signalFromOpportunity(opp signals.Record) model.BuyerSignal {
	return model.BuyerSignal{
		Type:    str(opp["type"]),
		Title:   str(opp["title"]),
		Summary: str(opp["summary"]),
		Date:    str(firstNonEmpty(opp["date"], opp["postedDate"], opp["closeDate"])),
		Amount:  extractDollar(opp),
	}
}

func recencyScore(sigs []model.BuyerSignal) float64 {
	var best time.Time
	found := false
	for _, s := range sigs {
		t, err := parseISODate(s.Date)
		if err != nil {
			continue
		}
		if !found || t.After(best) {
			best = t
			found = true
		}
	}
	if !found {
		return 0
	}
	ageDays := time.Since(best).Hours() / 24
	v := (365 - ageDays) / 365
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

func parseISODate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, strconvErr
}

var strconvErr = strconv.ErrSyntax

func urgencyScore(sigs []model.BuyerSignal) float64 {
	for _, s := range sigs {
		if urgentTypes[s.Type] {
			return 1
		}
		lower := strings.ToLower(s.Title)
		for _, tok := range urgentTitleTokens {
			if strings.Contains(lower, tok) {
				return 1
			}
		}
	}
	return 0
}

func maxDollarAmount(sigs []model.BuyerSignal) float64 {
	max := 0.0
	for _, s := range sigs {
		if s.Amount > max {
			max = s.Amount
		}
	}
	return max
}

func extractDollar(opp signals.Record) float64 {
	for _, key := range []string{"amount", "value", "contractAmount"} {
		if v, ok := opp[key]; ok {
			if f, ok := toFloat(v); ok {
				return f
			}
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		cleaned := dollarRe.FindString(t)
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func keywordTokens(primaryKeywords []string, idealBuyerProfile string) []string {
	var tokens []string
	for _, kw := range primaryKeywords {
		tokens = append(tokens, strings.ToLower(kw))
	}
	for _, tok := range strings.Fields(idealBuyerProfile) {
		tok = strings.ToLower(strings.Trim(tok, ".,;:()"))
		if len(tok) > 3 && !stopWords[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func keywordHits(sigs []model.BuyerSignal, tokens []string) int {
	hits := 0
	for _, s := range sigs {
		haystack := strings.ToLower(s.Title + " " + s.Summary)
		for _, tok := range tokens {
			hits += strings.Count(haystack, tok)
		}
	}
	return hits
}

func typeMatchScore(buyerType string, strategyTypes []string) float64 {
	if buyerType == "" || len(strategyTypes) == 0 {
		return 0
	}
	buyerTypes := strings.Split(buyerType, ",")
	for _, bt := range buyerTypes {
		bt = strings.TrimSpace(bt)
		for _, st := range strategyTypes {
			if strings.EqualFold(bt, strings.TrimSpace(st)) {
				return 1
			}
		}
	}
	return 0
}

func buildRationale(b model.ScoredBuyer) string {
	return "Selected for highest composite score across signal volume, recency, urgency, deal size, and keyword relevance."
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vs ...any) any {
	for _, v := range vs {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
