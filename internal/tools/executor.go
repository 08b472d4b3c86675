package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Observer receives one sample per handler invocation.
type Observer interface {
	ObserveToolCall(tool, outcome string, elapsed time.Duration)
}

// Result is the outcome of one tool call. Output always holds the text to
// surface; failed calls carry an "Error: ..." string and a non-nil Err.
type Result struct {
	Call   ToolCall
	Output string
	Err    error
}

// Executor runs general tool handlers concurrently.
type Executor struct {
	registry *Registry
	limit    int
	observer Observer
	log      zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrency caps the number of handlers running at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithObserver reports per-call outcomes to o.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets the executor logger.
func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, limit: 4, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every call and waits for all of them. Results are returned in
// call order; a failing handler never affects the others.
func (e *Executor) Execute(ctx context.Context, calls []ToolCall) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.run(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) run(ctx context.Context, call ToolCall) (res Result) {
	res.Call = call
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("handler panic: %v", r)
			res.Output = "Error: " + res.Err.Error()
		}
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
			e.log.Warn().Str("tool", call.Tool).Err(res.Err).Msg("tool call failed")
		}
		if e.observer != nil {
			e.observer.ObserveToolCall(call.Tool, outcome, time.Since(start))
		}
	}()

	spec, ok := e.registry.LookupTool(call.Tool)
	if !ok {
		res.Err = fmt.Errorf("unknown tool %q", call.Tool)
		res.Output = "Error: " + res.Err.Error()
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Output = "Error: " + err.Error()
		return res
	}

	out, err := spec.Handler(ctx, call.Parameters)
	if err != nil {
		res.Err = err
		res.Output = "Error: " + err.Error()
		return res
	}
	res.Output = out
	return res
}

// ResultMap flattens results into tool name -> output. When a tool is called
// more than once the later call in call order wins.
func ResultMap(results []Result) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.Call.Tool] = r.Output
	}
	return out
}
