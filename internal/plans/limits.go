package plans

import "strings"

// Plan is a subscription tier name as stored by the billing system.
type Plan string

const (
	Free         Plan = "Free"
	Basic        Plan = "Basic"
	Professional Plan = "Professional"
	Enterprise   Plan = "Enterprise"
)

// ContextLevel controls how many facts are assembled into a prompt.
type ContextLevel string

const (
	LevelMinimal  ContextLevel = "minimal"
	LevelStandard ContextLevel = "standard"
	LevelFull     ContextLevel = "full"
)

// Valid reports whether l is one of the three known levels.
func (l ContextLevel) Valid() bool {
	switch l {
	case LevelMinimal, LevelStandard, LevelFull:
		return true
	}
	return false
}

// Limits holds the per-tier ceilings for the shared memory feature.
type Limits struct {
	MaxContextItems      int          `json:"max_context_items"`
	MaxContextTokens     int          `json:"max_context_tokens"`
	ExtractionInterval   int          `json:"extraction_interval"` // user turns between extractions
	AutoExtraction       bool         `json:"auto_extraction"`
	SmartRetrieval       bool         `json:"smart_retrieval"`
	DefaultContextLevel  ContextLevel `json:"default_context_level"`
	ContextRetentionDays int          `json:"context_retention_days"`
	AutoCompression      bool         `json:"auto_compression"`
}

// Ordered lists the tiers from most to least restrictive.
var Ordered = []Plan{Free, Basic, Professional, Enterprise}

var limitsTable = map[Plan]Limits{
	Free: {
		MaxContextItems:      10,
		MaxContextTokens:     150,
		ExtractionInterval:   5,
		AutoExtraction:       true,
		SmartRetrieval:       false,
		DefaultContextLevel:  LevelMinimal,
		ContextRetentionDays: 30,
		AutoCompression:      false,
	},
	Basic: {
		MaxContextItems:      50,
		MaxContextTokens:     500,
		ExtractionInterval:   3,
		AutoExtraction:       true,
		SmartRetrieval:       false,
		DefaultContextLevel:  LevelStandard,
		ContextRetentionDays: 90,
		AutoCompression:      false,
	},
	Professional: {
		MaxContextItems:      200,
		MaxContextTokens:     1500,
		ExtractionInterval:   2,
		AutoExtraction:       true,
		SmartRetrieval:       true,
		DefaultContextLevel:  LevelStandard,
		ContextRetentionDays: 365,
		AutoCompression:      true,
	},
	Enterprise: {
		MaxContextItems:      1000,
		MaxContextTokens:     4000,
		ExtractionInterval:   1,
		AutoExtraction:       true,
		SmartRetrieval:       true,
		DefaultContextLevel:  LevelFull,
		ContextRetentionDays: 730,
		AutoCompression:      true,
	},
}

// Parse maps a plan name to a Plan, case-insensitively.
// Empty or unknown names fall back to Free.
func Parse(name string) Plan {
	name = strings.TrimSpace(name)
	for _, p := range Ordered {
		if strings.EqualFold(name, string(p)) {
			return p
		}
	}
	return Free
}

// Known reports whether name matches one of the tiers.
func Known(name string) bool {
	name = strings.TrimSpace(name)
	for _, p := range Ordered {
		if strings.EqualFold(name, string(p)) {
			return true
		}
	}
	return false
}

// LimitsFor returns the limits for the given plan. Unknown plans get Free limits.
func LimitsFor(p Plan) Limits {
	if l, ok := limitsTable[p]; ok {
		return l
	}
	return limitsTable[Free]
}
