package generator

import (
	"fmt"
	"strings"
)

// SearchStrategy is the JSON shape returned by the search-strategy
// analyst sub-agent (spec.md §4.3 bullet 1).
type SearchStrategy struct {
	PrimaryKeywords    []string `json:"primary_keywords"`
	AlternateKeywords  []string `json:"alternate_keywords"`
	MeetingKeywords    []string `json:"meeting_keywords"`
	RFPKeywords        []string `json:"rfp_keywords"`
	BuyerTypes         []string `json:"buyer_types"`
	OpportunityTypes   []string `json:"opportunity_types"`
	GeographicHints    []string `json:"geographic_hints"`
	IdealBuyerProfile  string   `json:"ideal_buyer_profile"`
}

// SearchStrategyPrompt builds the system+user prompt pair for the
// search-strategy analyst, grounded on llm.py's search_strategy().
// priorRunsSummary is empty when no deduplication history applies.
func SearchStrategyPrompt(targetCompany, targetDomain, productDescription, priorRunsSummary string) (system, user string) {
	system = "You are a B2G (business-to-government) search strategist. " +
		"Given a vendor's product, infer the keywords and buyer segments most " +
		"likely to surface matching public-sector procurement activity. " +
		"Respond with JSON only: primary_keywords, alternate_keywords, " +
		"meeting_keywords, rfp_keywords, buyer_types, opportunity_types " +
		"(subset of Meeting, Purchase, RFP, Contract), geographic_hints, " +
		"ideal_buyer_profile."

	user = fmt.Sprintf("Vendor: %s\nDomain: %s\nProduct: %s", targetCompany, targetDomain, productDescription)
	if priorRunsSummary != "" {
		user += "\n\nPrior runs for this vendor (diversify keywords and segments away from these):\n" + priorRunsSummary
	}
	return system, user
}

// ApplySearchStrategyDefaults fills missing keys the way s2 does:
// primary-keywords fallback to the company name, opportunity-types
// fallback to all four types.
func ApplySearchStrategyDefaults(s *SearchStrategy, targetCompany string) {
	if len(s.PrimaryKeywords) == 0 {
		s.PrimaryKeywords = []string{targetCompany}
	}
	if len(s.OpportunityTypes) == 0 {
		s.OpportunityTypes = []string{"Meeting", "Purchase", "RFP", "Contract"}
	}
}

// FeaturedSectionPrompt builds the prompt for the featured-section
// writer (spec.md §4.3 bullet 2): snapshot card, three "why this
// matters" bullets, one best contact, 3-5 recent-signal paragraphs.
func FeaturedSectionPrompt(product, buyerProfileJSON, contactsJSON, opportunitiesJSON, aiContext string) (system, user string) {
	system = "You write a featured-buyer section for a B2G sales intelligence " +
		"report. Use ONLY the data provided below — zero outside knowledge. " +
		"Produce Markdown with: a snapshot card, exactly three \"why this " +
		"matters\" bullets each referencing a specific signal, one best " +
		"contact, and 3-5 paragraphs describing the most recent signals."

	user = fmt.Sprintf("Product: %s\n\nBuyer profile:\n%s\n\nContacts:\n%s\n\nOpportunities:\n%s",
		product, buyerProfileJSON, contactsJSON, opportunitiesJSON)
	if aiContext != "" {
		user += "\n\nAdditional AI context:\n" + aiContext
	}
	return system, user
}

// SecondaryCardsPrompt builds the prompt for the secondary-cards writer
// (spec.md §4.3 bullet 3): a compact card per secondary buyer.
func SecondaryCardsPrompt(product, productDescription, buyersContentJSON string) (system, user string) {
	system = "You write compact secondary-buyer cards for a B2G sales " +
		"intelligence report. One short card per buyer: name, type, top " +
		"signal, and a one-line rationale. Use only provided data."
	user = fmt.Sprintf("Product: %s (%s)\n\nBuyers:\n%s", product, productDescription, buyersContentJSON)
	return system, user
}

// AssemblerPrompt builds the tool-mode prompt for the
// assembler-and-publisher sub-agent (spec.md §4.3 bullet 4).
func AssemblerPrompt(sections []string, title, toolAlias string) (system, user string) {
	system = fmt.Sprintf(
		"You assemble the final report from the sections given and publish "+
			"it by calling the %q tool exactly once with the title and the "+
			"assembled Markdown body. After the tool call, emit the assembled "+
			"report text, then a line containing exactly ---NOTION_URL---, "+
			"then the resulting page URL. If publishing fails, emit "+
			"PUBLISH_FAILED instead of a URL.", toolAlias)
	user = fmt.Sprintf("Title: %s\n\nSections:\n%s", title, strings.Join(sections, "\n\n---\n\n"))
	return system, user
}

// ParseAssemblerOutput splits the assembler's output on the
// ---NOTION_URL--- delimiter, grounded on llm.py's
// shape_and_publish_report parsing.
func ParseAssemblerOutput(output string) (report, url string, err error) {
	const delim = "---NOTION_URL---"
	idx := strings.Index(output, delim)
	if idx == -1 {
		return "", "", fmt.Errorf("generator: assembler output missing %s delimiter", delim)
	}
	report = strings.TrimSpace(output[:idx])
	tail := strings.TrimSpace(output[idx+len(delim):])
	if tail == "PUBLISH_FAILED" || tail == "" {
		return "", "", fmt.Errorf("generator: assembler reported publish failure")
	}
	return report, tail, nil
}

// FactCheckPrompt builds the prompt for the fact-checker sub-agent
// (spec.md §4.3 bullet 5): returns PASS or FAIL <issues>.
func FactCheckPrompt(buyerName, reportText string) (system, user string) {
	system = "You fact-check a generated sales intelligence report for " +
		"internal consistency. Reply with exactly \"PASS\" if consistent, " +
		"or \"FAIL\" followed by a numbered list of concrete issues."
	user = fmt.Sprintf("Featured buyer: %s\n\nReport:\n%s", buyerName, reportText)
	return system, user
}

// ParseFactCheck interprets the fact-checker's PASS/FAIL<issues> output.
func ParseFactCheck(output string) (passed bool, detail string) {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "PASS") {
		return true, ""
	}
	return false, strings.TrimSpace(strings.TrimPrefix(trimmed, "FAIL"))
}

// ReportFixerPrompt builds the prompt for the report-fixer sub-agent
// (spec.md §4.3 bullet 6): corrective regeneration preserving all other
// content, output is the corrected Markdown only.
func ReportFixerPrompt(buyerName, reportMarkdown string, issues, warnings []string) (system, user string) {
	system = "You correct a sales intelligence report given a list of " +
		"validation issues and warnings. Preserve all content that is not " +
		"implicated by an issue. Output ONLY the corrected Markdown, nothing else."
	user = fmt.Sprintf("Featured buyer: %s\n\nIssues:\n%s\n\nWarnings:\n%s\n\nReport:\n%s",
		buyerName, strings.Join(issues, "\n"), strings.Join(warnings, "\n"), reportMarkdown)
	return system, user
}

// AskPrompt builds a standalone Q&A prompt, supplemented from
// original_source/agent/llm.py's ask() helper (dropped by the
// distillation, reinstated here as a small utility the HTTP surface can
// expose for operator debugging — not part of the pipeline phase graph).
func AskPrompt(question, context string) (system, user string) {
	system = "Answer the question directly and concisely, using the " +
		"provided context if relevant."
	user = question
	if context != "" {
		user += "\n\nContext:\n" + context
	}
	return system, user
}
