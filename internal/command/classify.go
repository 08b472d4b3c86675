package command

import "strings"

// Complexity is a coarse hint used when building prompts.
type Complexity string

const (
	ComplexityStandard Complexity = "standard"
	ComplexityHigh     Complexity = "high"
)

// Dialect selects the prompt template.
type Dialect string

const (
	DialectSmartHome Dialect = "smart_home"
	DialectGeneral   Dialect = "general"
)

// Classification is the keyword analysis of an utterance.
type Classification struct {
	HasSmartHome bool       `json:"has_smart_home"`
	HasGeneral   bool       `json:"has_general"`
	IsHybrid     bool       `json:"is_hybrid"`
	Complexity   Complexity `json:"complexity"`
}

// Dialect returns the prompt dialect. Any smart-home signal selects the
// smart-home dialect, which also allows tool calls.
func (c Classification) Dialect() Dialect {
	if c.HasSmartHome {
		return DialectSmartHome
	}
	return DialectGeneral
}

// Empty reports whether no keyword matched.
func (c Classification) Empty() bool {
	return !c.HasSmartHome && !c.HasGeneral
}

var smartHomeKeywords = []string{
	"lights", "light", "music", "temperature", "volume", "brightness",
	"play", "pause", "resume", "turn on", "turn off", "set", "dim", "brighten",
	"spotify", "thermostat", "lamp", "bedroom", "living room", "kitchen",
}

var generalKeywords = []string{
	"time", "weather", "calculate", "math", "search", "what is", "what's",
	"how to", "how much", "how many", "explain", "tell me about", "news",
	"today", "when", "who is",
}

// Classify scans the utterance for smart-home and general keywords.
// Matching is case-insensitive substring matching.
func Classify(utterance string) Classification {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return Classification{Complexity: ComplexityStandard}
	}
	c := Classification{
		HasSmartHome: containsAny(text, smartHomeKeywords),
		HasGeneral:   containsAny(text, generalKeywords),
		Complexity:   ComplexityStandard,
	}
	if c.HasSmartHome && c.HasGeneral {
		c.IsHybrid = true
		c.Complexity = ComplexityHigh
	}
	return c
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
