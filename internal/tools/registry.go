package tools

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Category separates smart-home actions from general tools.
type Category string

const (
	CategorySmartHome Category = "smart_home"
	CategoryGeneral   Category = "general"
)

// Handler runs a general tool. Parameters arrive as strings.
type Handler func(ctx context.Context, params map[string]string) (string, error)

// Spec is the metadata shared by actions and tools.
type Spec struct {
	Name           string
	Description    string
	ParameterNames []string
	Category       Category
}

// HasParameter reports whether name is a declared parameter.
func (s Spec) HasParameter(name string) bool {
	return slices.Contains(s.ParameterNames, name)
}

// ActionSpec describes a smart-home action. Actions have no handler; they are
// emitted as tasks for a backend adapter.
type ActionSpec struct {
	Spec
}

// ToolSpec describes a general tool and the handler that runs it.
type ToolSpec struct {
	Spec
	Handler Handler
}

// ToolCall is a parsed request to run a general tool.
type ToolCall struct {
	Tool       string            `json:"tool"`
	Parameters map[string]string `json:"parameters"`
}

// Registry is the catalog of actions and tools. It is not modified after
// construction and is safe for concurrent reads.
type Registry struct {
	actions     map[string]ActionSpec
	tools       map[string]ToolSpec
	actionOrder []string
	toolOrder   []string
}

// NewRegistry validates and indexes the given entries. Names must be unique
// across both tables.
func NewRegistry(actions []ActionSpec, tools []ToolSpec) (*Registry, error) {
	r := &Registry{
		actions: make(map[string]ActionSpec, len(actions)),
		tools:   make(map[string]ToolSpec, len(tools)),
	}
	seen := make(map[string]struct{}, len(actions)+len(tools))
	for _, a := range actions {
		if a.Name == "" {
			return nil, fmt.Errorf("action name is required")
		}
		if _, ok := seen[a.Name]; ok {
			return nil, fmt.Errorf("duplicate registry name %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		a.Category = CategorySmartHome
		a.ParameterNames = slices.Clone(a.ParameterNames)
		r.actions[a.Name] = a
		r.actionOrder = append(r.actionOrder, a.Name)
	}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("duplicate registry name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		t.Category = CategoryGeneral
		t.ParameterNames = slices.Clone(t.ParameterNames)
		r.tools[t.Name] = t
		r.toolOrder = append(r.toolOrder, t.Name)
	}
	return r, nil
}

// DefaultRegistry returns the built-in smart-home actions and general tools.
// now is used by get_time; nil means time.Now.
func DefaultRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r, err := NewRegistry(DefaultActions(), DefaultTools(now))
	if err != nil {
		panic(fmt.Sprintf("tools: default registry: %v", err))
	}
	return r
}

// DefaultActions lists the smart-home actions understood by the adapters.
func DefaultActions() []ActionSpec {
	return []ActionSpec{
		{Spec{Name: "turn_on_lights", Description: "Turn on lights in a room", ParameterNames: []string{"room", "brightness", "color"}}},
		{Spec{Name: "turn_off_lights", Description: "Turn off lights in a room", ParameterNames: []string{"room"}}},
		{Spec{Name: "play_music", Description: "Play music on a device", ParameterNames: []string{"query", "device", "type"}}},
		{Spec{Name: "pause_music", Description: "Pause music playback", ParameterNames: []string{"device"}}},
		{Spec{Name: "resume_music", Description: "Resume music playback", ParameterNames: []string{"device"}}},
		{Spec{Name: "set_volume", Description: "Set playback volume (0-100)", ParameterNames: []string{"device", "volume"}}},
		{Spec{Name: "set_temperature", Description: "Set the thermostat temperature", ParameterNames: []string{"room", "temperature"}}},
	}
}

// LookupAction returns the action spec for name.
func (r *Registry) LookupAction(name string) (ActionSpec, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// LookupTool returns the tool spec for name.
func (r *Registry) LookupTool(name string) (ToolSpec, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ListByCategory returns specs in registration order.
func (r *Registry) ListByCategory(cat Category) []Spec {
	switch cat {
	case CategorySmartHome:
		out := make([]Spec, 0, len(r.actionOrder))
		for _, name := range r.actionOrder {
			out = append(out, r.actions[name].Spec)
		}
		return out
	case CategoryGeneral:
		out := make([]Spec, 0, len(r.toolOrder))
		for _, name := range r.toolOrder {
			out = append(out, r.tools[name].Spec)
		}
		return out
	default:
		return nil
	}
}

// ActionNames returns registered action names in registration order.
func (r *Registry) ActionNames() []string {
	return slices.Clone(r.actionOrder)
}

// ToolNames returns registered tool names in registration order.
func (r *Registry) ToolNames() []string {
	return slices.Clone(r.toolOrder)
}
