package command

import (
	"github.com/ent0n29/totoro/internal/tools"
)

// Kind labels the outcome of one processed utterance.
type Kind string

const (
	KindSmartHome Kind = "smart_home"
	KindGeneral   Kind = "general"
	KindHybrid    Kind = "hybrid"
	KindError     Kind = "error"
)

// Task is a structured smart-home action for a backend adapter.
// Parameter values are scalars: string, int, float64 or bool.
type Task struct {
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
	Room       string         `json:"room,omitempty"`
	Priority   int            `json:"priority"`
}

// UnifiedResult is everything one utterance produced.
type UnifiedResult struct {
	Success      bool              `json:"success"`
	ResponseText string            `json:"response_text"`
	Tasks        []Task            `json:"tasks"`
	ToolCalls    []tools.ToolCall  `json:"tool_calls"`
	ToolResults  map[string]string `json:"tool_results"`
	Kind         Kind              `json:"kind"`
	Error        string            `json:"error,omitempty"`
}

// KindFor derives the result kind from what a turn produced.
func KindFor(hasTasks, hasToolCalls bool) Kind {
	switch {
	case hasTasks && hasToolCalls:
		return KindHybrid
	case hasTasks:
		return KindSmartHome
	default:
		return KindGeneral
	}
}
