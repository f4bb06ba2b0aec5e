// Package config provides the pipeline's runtime-mutable tunables: factory
// defaults, a metadata table describing each key, and per-run immutable
// snapshots so in-flight runs are never affected by operator edits.
package config

import "time"

// StepTimeouts holds per-step timeouts, keyed by step label (s3a, s6,
// s7, ...). Ported from original_source/agent/config.py's TIMEOUTS map.
// The orchestrator reads only the s3a-s3d, s12 and s13 entries; the
// s6-s11 steps set their timeouts in code, and s14 is not read.
type StepTimeouts struct {
	S3a time.Duration `yaml:"s3a" json:"s3a"`
	S3b time.Duration `yaml:"s3b" json:"s3b"`
	S3c time.Duration `yaml:"s3c" json:"s3c"`
	S3d time.Duration `yaml:"s3d" json:"s3d"`
	S6  time.Duration `yaml:"s6" json:"s6"`
	S7  time.Duration `yaml:"s7" json:"s7"`
	S8  time.Duration `yaml:"s8" json:"s8"`
	S9  time.Duration `yaml:"s9" json:"s9"`
	S10 time.Duration `yaml:"s10" json:"s10"`
	S11 time.Duration `yaml:"s11" json:"s11"`
	S12 time.Duration `yaml:"s12" json:"s12"`
	S13 time.Duration `yaml:"s13" json:"s13"`
	S14 time.Duration `yaml:"s14" json:"s14"`
}

// Defaults is the full set of factory tunables. Values correspond
// directly to original_source/agent/config.py's module-level constants.
// JSON tags mirror the YAML ones so the same shape serves the on-disk
// config file and the GET/PATCH /api/config surface.
type Defaults struct {
	MaxSecondaryBuyers    int               `yaml:"max_secondary_buyers" json:"max_secondary_buyers"`
	MaxConcurrentRuns     int               `yaml:"max_concurrent_runs" json:"max_concurrent_runs"`
	OpportunityPageSize   int               `yaml:"opportunity_page_size" json:"opportunity_page_size"`
	BuyerSearchPageSize   int               `yaml:"buyer_search_page_size" json:"buyer_search_page_size"`
	BuyerChatPollInterval time.Duration     `yaml:"buyer_chat_poll_interval" json:"buyer_chat_poll_interval"`
	BuyerChatMaxWait      time.Duration     `yaml:"buyer_chat_max_wait" json:"buyer_chat_max_wait"`
	LLMTextTimeout        time.Duration     `yaml:"llm_text_timeout" json:"llm_text_timeout"`
	LLMToolTimeout        time.Duration     `yaml:"llm_tool_timeout" json:"llm_tool_timeout"`
	CancelPollInterval    time.Duration     `yaml:"cancel_poll_interval" json:"cancel_poll_interval"`
	DedupLookbackLimit    int               `yaml:"dedup_lookback_limit" json:"dedup_lookback_limit"`
	PublisherToolAlias    string            `yaml:"publisher_tool_alias" json:"publisher_tool_alias"`
	StepTimeouts          StepTimeouts      `yaml:"step_timeouts" json:"step_timeouts"`
	BuyerTypeEmoji        map[string]string `yaml:"buyer_type_emoji" json:"buyer_type_emoji"`
	BuyerTypeLabel        map[string]string `yaml:"buyer_type_label" json:"buyer_type_label"`
}

// FactoryDefaults returns the hard-coded factory values, equivalent to
// original_source/agent/config.py's module-level constants.
func FactoryDefaults() Defaults {
	return Defaults{
		MaxSecondaryBuyers:    4,
		MaxConcurrentRuns:     3,
		OpportunityPageSize:   40,
		BuyerSearchPageSize:   25,
		BuyerChatPollInterval: 3 * time.Second,
		BuyerChatMaxWait:      90 * time.Second,
		LLMTextTimeout:        300 * time.Second,
		LLMToolTimeout:        300 * time.Second,
		CancelPollInterval:    500 * time.Millisecond,
		DedupLookbackLimit:    5,
		PublisherToolAlias:    "starbridge_publish_page",
		StepTimeouts: StepTimeouts{
			S3a: 15 * time.Second,
			S3b: 15 * time.Second,
			S3c: 15 * time.Second,
			S3d: 15 * time.Second,
			S6:  90 * time.Second,
			S7:  20 * time.Second,
			S8:  20 * time.Second,
			S9:  30 * time.Second,
			S10: 25 * time.Second,
			S11: 20 * time.Second,
			S12: 30 * time.Second,
			S13: 30 * time.Second,
			S14: 30 * time.Second,
		},
		BuyerTypeEmoji: map[string]string{
			"HigherEducation":  "🏛️",
			"SchoolDistrict":   "🏫",
			"City":             "🏙️",
			"County":           "🏢",
			"StateAgency":      "🏛️",
			"School":           "🏫",
			"PoliceDepartment": "👮",
			"FireDepartment":   "🚒",
			"Library":          "📚",
			"SpecialDistrict":  "🏢",
		},
		BuyerTypeLabel: map[string]string{
			"HigherEducation":  "Higher Education",
			"SchoolDistrict":   "School District",
			"City":             "City",
			"County":           "County",
			"StateAgency":      "State Agency",
			"School":           "School",
			"PoliceDepartment": "Police Department",
			"FireDepartment":   "Fire Department",
			"Library":          "Library",
			"SpecialDistrict":  "Special District",
		},
	}
}

// FieldMeta describes one tunable for the metadata table exposed over
// the config API (spec.md §6: "Factory defaults hold copies of every
// tunable declared in a metadata table mapping key -> {category, type,
// description, unit?}").
type FieldMeta struct {
	Category    string `json:"category"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Unit        string `json:"unit,omitempty"`
}

// Metadata is the static description of every registry key. Keys match
// the snake_case yaml tags on Defaults so SetValue/Snapshot can key
// off the same strings the HTTP config surface uses.
var Metadata = map[string]FieldMeta{
	"max_secondary_buyers":    {"ranking", "int", "Number of secondary buyers surfaced alongside the featured buyer", ""},
	"max_concurrent_runs":     {"admission", "int", "Maximum runs executing concurrently", ""},
	"opportunity_page_size":   {"signals", "int", "Page size for opportunity_search calls", ""},
	"buyer_search_page_size":  {"signals", "int", "Page size for buyer_search calls", ""},
	"buyer_chat_poll_interval": {"signals", "duration", "Polling interval for buyer_chat async results", "nanoseconds"},
	"buyer_chat_max_wait":     {"signals", "duration", "Maximum wait before buyer_chat times out", "nanoseconds"},
	"llm_text_timeout":        {"generator", "duration", "Timeout for text-mode generator calls", "nanoseconds"},
	"llm_tool_timeout":        {"generator", "duration", "Timeout for tool-mode generator calls", "nanoseconds"},
	"cancel_poll_interval":    {"generator", "duration", "Cancellation poll cadence (not read: the generator client polls every 500ms)", "nanoseconds"},
	"dedup_lookback_limit":    {"store", "int", "Number of prior runs loaded for deduplication/diversification", ""},
	"publisher_tool_alias":    {"publisher", "string", "Tool alias the assembler sub-agent invokes to publish a page", ""},
}
