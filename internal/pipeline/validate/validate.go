// Package validate implements the post-assembly report checks and the
// corrective fix-and-republish path, grounded on
// original_source/agent/pipeline.py's s14_validate.
package validate

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/generator"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/publisher"
)

const firstCharsWindow = 500
const minReportLength = 500

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
var emDash = "—"

// Run executes every deterministic check plus the LLM consistency
// check, and returns the resulting ValidationResult. Deterministic
// checks never call out to the Generator; only the consistency check
// does (spec.md §4.7 "one LLM-backed consistency check").
func Run(ctx context.Context, report model.ScoredBuyer, productName, reportMarkdown string, secondary []model.ScoredBuyer, now time.Time, gen *generator.Client, factCheckTimeout time.Duration) *model.ValidationResult {
	result := &model.ValidationResult{}

	window := reportMarkdown
	if len(window) > firstCharsWindow {
		window = window[:firstCharsWindow]
	}
	if !strings.Contains(window, report.Name) {
		result.Errors = append(result.Errors, "featured buyer name does not appear in the opening "+itoa(firstCharsWindow)+" characters")
	}

	if productName != "" && !strings.Contains(reportMarkdown, productName) {
		result.Errors = append(result.Errors, "product name is missing from the report body")
	}

	monthYear := now.Format("January 2006")
	if !strings.Contains(reportMarkdown, monthYear) {
		result.Errors = append(result.Errors, "footer is missing the current month and year ("+monthYear+")")
	}

	if strings.Contains(reportMarkdown, emDash) {
		for _, line := range strings.Split(reportMarkdown, "\n") {
			if strings.Contains(line, emDash) && looksLikeContactRow(line) {
				result.Errors = append(result.Errors, "contact row uses an em dash where a phone or email is expected")
				break
			}
		}
	}

	if len(reportMarkdown) < minReportLength {
		result.Errors = append(result.Errors, "report body is shorter than the minimum length")
	}

	if !hasValidEmail(reportMarkdown) {
		result.Errors = append(result.Errors, "no contact email in the report matches a valid email format")
	}

	for _, s := range secondary {
		if !strings.Contains(reportMarkdown, s.Name) {
			result.Warnings = append(result.Warnings, "secondary buyer \""+s.Name+"\" is not named anywhere in the report")
		}
	}

	if gen != nil {
		system, user := generator.FactCheckPrompt(report.Name, reportMarkdown)
		out, err := gen.Generate(ctx, system, user, factCheckTimeout)
		if err == nil {
			passed, detail := generator.ParseFactCheck(out)
			if !passed {
				result.Errors = append(result.Errors, "consistency check failed: "+detail)
			}
		}
	}

	return result
}

// looksLikeContactRow is a light heuristic: a line mentioning a contact
// label or looking like a phone/email context.
func looksLikeContactRow(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "phone") || strings.Contains(lower, "email") || strings.Contains(lower, "contact")
}

func hasValidEmail(text string) bool {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, "(),;:\"'")
		if emailRe.MatchString(tok) {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Fix runs the report-fixer sub-agent against the issues/warnings found
// and, on success, republishes the corrected report via the Publisher
// when pageID is non-empty; with no page the fixed report is returned
// with an empty URL (spec.md §4.7 "On failure: regenerate via
// report-fixer... then conditionally re-publish").
func Fix(ctx context.Context, gen *generator.Client, pub *publisher.Client, buyerName, reportMarkdown, pageID string, result *model.ValidationResult, fixTimeout time.Duration) (fixedReport, publishedURL string, err error) {
	system, user := generator.ReportFixerPrompt(buyerName, reportMarkdown, result.Errors, result.Warnings)
	fixed, err := gen.Generate(ctx, system, user, fixTimeout)
	if err != nil {
		return "", "", err
	}
	fixed = strings.TrimSpace(fixed)
	if pageID == "" {
		return fixed, "", nil
	}

	page, err := pub.UpdatePage(ctx, pageID, nil, fixed)
	if err != nil {
		return fixed, "", err
	}
	return fixed, page.URL, nil
}
