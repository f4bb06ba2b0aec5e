package validate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/stretchr/testify/assert"
)

func validReport(buyerName, productName, monthYear string) string {
	body := "# Report for " + buyerName + "\n\n"
	body += "This report covers " + productName + " opportunities.\n\n"
	body += "Contact: jane.doe@example.com / phone 555-0100\n\n"
	body += strings.Repeat("Supporting detail about the opportunity. ", 20) + "\n\n"
	body += "Prepared " + monthYear + "\n"
	return body
}

func TestRunPassesCleanReport(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	report := model.ScoredBuyer{Name: "Acme Corp"}
	body := validReport("Acme Corp", "Widget Platform", now.Format("January 2006"))

	result := Run(context.Background(), report, "Widget Platform", body, nil, now, nil, time.Second)
	assert.Empty(t, result.Errors)
}

func TestRunFlagsMissingBuyerName(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	report := model.ScoredBuyer{Name: "Acme Corp"}
	body := strings.Repeat("x", 600) + "Acme Corp mentioned far too late to count.\n" + now.Format("January 2006")

	result := Run(context.Background(), report, "", body, nil, now, nil, time.Second)
	assert.Contains(t, strings.Join(result.Errors, "|"), "opening")
}

func TestRunFlagsMissingFooterDate(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	report := model.ScoredBuyer{Name: "Acme Corp"}
	body := validReport("Acme Corp", "Widget", "March 2020")

	result := Run(context.Background(), report, "Widget", body, nil, now, nil, time.Second)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "month and year") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunFlagsTooShort(t *testing.T) {
	now := time.Now()
	report := model.ScoredBuyer{Name: "Acme Corp"}
	body := "Acme Corp short report " + now.Format("January 2006")

	result := Run(context.Background(), report, "", body, nil, now, nil, time.Second)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "shorter than") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunWarnsOnMissingSecondaryBuyer(t *testing.T) {
	now := time.Now()
	report := model.ScoredBuyer{Name: "Acme Corp"}
	body := validReport("Acme Corp", "Widget", now.Format("January 2006"))
	secondary := []model.ScoredBuyer{{Name: "Unmentioned Buyer"}}

	result := Run(context.Background(), report, "Widget", body, secondary, now, nil, time.Second)
	assert.Len(t, result.Warnings, 1)
}
