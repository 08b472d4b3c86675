package tools

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRegistryTablesAreDisjoint(t *testing.T) {
	r := DefaultRegistry(nil)

	for _, name := range r.ActionNames() {
		if _, ok := r.LookupTool(name); ok {
			t.Fatalf("%q registered as both action and tool", name)
		}
	}
	if got := len(r.ListByCategory(CategorySmartHome)); got != 7 {
		t.Fatalf("smart-home actions = %d, want 7", got)
	}
	if got := len(r.ListByCategory(CategoryGeneral)); got != 4 {
		t.Fatalf("general tools = %d, want 4", got)
	}
	if got := r.ListByCategory("other"); got != nil {
		t.Fatalf("ListByCategory(other) = %v, want nil", got)
	}
}

func TestLookupAction(t *testing.T) {
	r := DefaultRegistry(nil)

	a, ok := r.LookupAction("turn_on_lights")
	if !ok {
		t.Fatalf("LookupAction(turn_on_lights) missing")
	}
	if a.Category != CategorySmartHome {
		t.Fatalf("Category = %q, want smart_home", a.Category)
	}
	if !a.HasParameter("brightness") || a.HasParameter("volume") {
		t.Fatalf("turn_on_lights parameters = %v", a.ParameterNames)
	}
	if _, ok := r.LookupAction("get_time"); ok {
		t.Fatalf("LookupAction(get_time) found a tool in the action table")
	}
	if _, ok := r.LookupAction("open_garage"); ok {
		t.Fatalf("LookupAction(open_garage) found an unregistered action")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	noop := func(context.Context, map[string]string) (string, error) { return "", nil }
	_, err := NewRegistry(
		[]ActionSpec{{Spec{Name: "ping"}}},
		[]ToolSpec{{Spec: Spec{Name: "ping"}, Handler: noop}},
	)
	if err == nil {
		t.Fatalf("NewRegistry() error = nil, want duplicate name error")
	}
	if _, err := NewRegistry(nil, []ToolSpec{{Spec: Spec{Name: "bare"}}}); err == nil {
		t.Fatalf("NewRegistry() error = nil, want missing handler error")
	}
}

func TestNewRegistryCopiesParameterNames(t *testing.T) {
	params := []string{"room"}
	r, err := NewRegistry([]ActionSpec{{Spec{Name: "turn_off_lights", ParameterNames: params}}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	params[0] = "mutated"
	a, _ := r.LookupAction("turn_off_lights")
	if a.ParameterNames[0] != "room" {
		t.Fatalf("ParameterNames[0] = %q, want registry to own its copy", a.ParameterNames[0])
	}
}

func TestGetTimeUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	r := DefaultRegistry(func() time.Time { return fixed })
	spec, _ := r.LookupTool("get_time")

	got, err := spec.Handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("get_time error = %v", err)
	}
	if got != "2026-03-14 09:26:53" {
		t.Fatalf("get_time = %q, want %q", got, "2026-03-14 09:26:53")
	}
}
