package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONRaw(t *testing.T) {
	got := ExtractJSON(`{"a": 1}`)
	assert.Equal(t, float64(1), got["a"])
}

func TestExtractJSONFencedBlock(t *testing.T) {
	got := ExtractJSON("here you go:\n```json\n{\"a\": 2}\n```\nthanks")
	assert.Equal(t, float64(2), got["a"])
}

func TestExtractJSONBareBraces(t *testing.T) {
	got := ExtractJSON(`some preamble {"a": 3} trailing text`)
	assert.Equal(t, float64(3), got["a"])
}

func TestExtractJSONUnrecoverableYieldsEmptyMap(t *testing.T) {
	got := ExtractJSON("no json here at all")
	assert.Empty(t, got)
}

func TestApplySearchStrategyDefaults(t *testing.T) {
	s := &SearchStrategy{}
	ApplySearchStrategyDefaults(s, "Acme")
	assert.Equal(t, []string{"Acme"}, s.PrimaryKeywords)
	assert.Equal(t, []string{"Meeting", "Purchase", "RFP", "Contract"}, s.OpportunityTypes)
}

func TestParseAssemblerOutputSuccess(t *testing.T) {
	report, url, err := ParseAssemblerOutput("# Report body\n---NOTION_URL---\nhttps://notion.so/abc")
	require.NoError(t, err)
	assert.Equal(t, "# Report body", report)
	assert.Equal(t, "https://notion.so/abc", url)
}

func TestParseAssemblerOutputPublishFailed(t *testing.T) {
	_, _, err := ParseAssemblerOutput("# Report\n---NOTION_URL---\nPUBLISH_FAILED")
	require.Error(t, err)
}

func TestParseFactCheckPass(t *testing.T) {
	passed, detail := ParseFactCheck("PASS")
	assert.True(t, passed)
	assert.Empty(t, detail)
}

func TestParseFactCheckFail(t *testing.T) {
	passed, detail := ParseFactCheck("FAIL\n1. Buyer name missing")
	assert.False(t, passed)
	assert.Contains(t, detail, "Buyer name missing")
}
