package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (o *recordingObserver) ObserveToolCall(tool, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]string{}
	}
	o.outcomes[tool] = outcome
}

func testRegistry(t *testing.T, extra ...ToolSpec) *Registry {
	t.Helper()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, err := NewRegistry(DefaultActions(), append(DefaultTools(func() time.Time { return fixed }), extra...))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestExecuteCollectsResultsInCallOrder(t *testing.T) {
	exec := NewExecutor(testRegistry(t))
	results := exec.Execute(context.Background(), []ToolCall{
		{Tool: "calculate", Parameters: map[string]string{"expression": "15 * 23"}},
		{Tool: "get_time"},
		{Tool: "get_weather", Parameters: map[string]string{"location": "Tokyo"}},
	})

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Output != "345" {
		t.Fatalf("calculate = %q, want 345", results[0].Output)
	}
	if results[1].Output != "2026-01-02 03:04:05" {
		t.Fatalf("get_time = %q", results[1].Output)
	}
	if results[2].Output != "Weather in Tokyo: Sunny, 72°F with light clouds" {
		t.Fatalf("get_weather = %q", results[2].Output)
	}
}

func TestExecuteIsolatesFailures(t *testing.T) {
	boom := ToolSpec{
		Spec: Spec{Name: "boom"},
		Handler: func(context.Context, map[string]string) (string, error) {
			return "", errors.New("backend unreachable")
		},
	}
	panicky := ToolSpec{
		Spec: Spec{Name: "panicky"},
		Handler: func(context.Context, map[string]string) (string, error) {
			panic("nil map")
		},
	}
	obs := &recordingObserver{}
	exec := NewExecutor(testRegistry(t, boom, panicky), WithObserver(obs))

	results := exec.Execute(context.Background(), []ToolCall{
		{Tool: "boom"},
		{Tool: "panicky"},
		{Tool: "web_search", Parameters: map[string]string{"query": "totoro"}},
	})
	got := ResultMap(results)

	if got["boom"] != "Error: backend unreachable" {
		t.Fatalf("boom = %q", got["boom"])
	}
	if !strings.HasPrefix(got["panicky"], "Error: handler panic") {
		t.Fatalf("panicky = %q, want recovered panic", got["panicky"])
	}
	if !strings.Contains(got["web_search"], "totoro") {
		t.Fatalf("web_search = %q, want unaffected result", got["web_search"])
	}
	if obs.outcomes["boom"] != "error" || obs.outcomes["web_search"] != "ok" {
		t.Fatalf("observer outcomes = %v", obs.outcomes)
	}
}

func TestExecuteRunsHandlersConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(context.Context, map[string]string) (string, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return "met", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("peer never started")
		}
	}
	exec := NewExecutor(testRegistry(t,
		ToolSpec{Spec: Spec{Name: "left"}, Handler: rendezvous},
		ToolSpec{Spec: Spec{Name: "right"}, Handler: rendezvous},
	))

	results := exec.Execute(context.Background(), []ToolCall{{Tool: "left"}, {Tool: "right"}})
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s error = %v", r.Call.Tool, r.Err)
		}
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewExecutor(testRegistry(t)).Execute(ctx, []ToolCall{{Tool: "get_time"}})
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", results[0].Err)
	}
}

func TestExecuteUnknownToolIsAnError(t *testing.T) {
	results := NewExecutor(testRegistry(t)).Execute(context.Background(), []ToolCall{{Tool: "rm_rf"}})
	if results[0].Err == nil || !strings.HasPrefix(results[0].Output, "Error: ") {
		t.Fatalf("result = %+v, want error result", results[0])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	results := NewExecutor(testRegistry(t)).Execute(context.Background(), []ToolCall{{Tool: "web_search"}})
	if results[0].Output != "Error: query is required" {
		t.Fatalf("web_search = %q", results[0].Output)
	}
}
