// Package processor turns one utterance into tasks, tool results and a
// spoken reply.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/command"
	"github.com/ent0n29/totoro/internal/llm"
	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/observability"
	"github.com/ent0n29/totoro/internal/policy"
	"github.com/ent0n29/totoro/internal/tools"
)

// Apology is spoken whenever a turn fails.
const Apology = "Sorry, I encountered an error processing your command."

// FallbackReply is used when a turn produced nothing else to say.
const FallbackReply = "I'll help you with that."

const (
	defaultCommandBudget = 60 * time.Second
	archiveSaveTimeout   = 2 * time.Second
)

// ErrNoTasks is reported when a smart-home request produced neither a valid
// task block, a keyword match nor a tool call.
var ErrNoTasks = errors.New("no smart-home tasks could be derived")

const reinforcement = "IMPORTANT: your previous reply did not contain a valid " + command.SentinelToken +
	" line. Reply again with one short sentence followed by exactly one line of the form " +
	command.SentinelToken + ` {"tasks": [...]} using only the listed actions.`

// Config holds the processor tunables.
type Config struct {
	TemperatureSmartHome float64
	TemperatureGeneral   float64
	HistoryMaxTurns      int
	PromptTailTurns      int
	TurnTruncateChars    int
	// CommandBudget bounds ProcessCommand.
	CommandBudget time.Duration
}

// TurnContext is the per-call situation of an utterance.
type TurnContext struct {
	CurrentRoom string
	SessionID   string
}

// Processor owns the conversation history of one assistant.
type Processor struct {
	cfg      Config
	registry *tools.Registry
	parser   *command.Parser
	executor *tools.Executor
	gen      llm.Generator
	history  *memory.History
	archive  memory.Archive
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Processor)

// WithArchive mirrors turns into a store, best effort.
func WithArchive(a memory.Archive) Option {
	return func(p *Processor) { p.archive = a }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithClock replaces time.Now for prompts.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithExecutor replaces the default tool executor.
func WithExecutor(e *tools.Executor) Option {
	return func(p *Processor) { p.executor = e }
}

func New(cfg Config, registry *tools.Registry, gen llm.Generator, opts ...Option) *Processor {
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = 20
	}
	if cfg.PromptTailTurns < 0 {
		cfg.PromptTailTurns = 0
	}
	if cfg.CommandBudget <= 0 {
		cfg.CommandBudget = defaultCommandBudget
	}
	p := &Processor{
		cfg:      cfg,
		registry: registry,
		gen:      gen,
		history:  memory.NewHistory(cfg.HistoryMaxTurns),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.parser = command.NewParser(registry, p.log)
	if p.executor == nil {
		p.executor = tools.NewExecutor(registry, tools.WithObserver(p.metrics), tools.WithLogger(p.log))
	}
	return p
}

// History exposes the conversation history.
func (p *Processor) History() *memory.History { return p.history }

// Process runs classify, prompt, generate, parse and tool execution for one
// utterance. Model and tool problems are reported in the result, never as a
// Go error.
func (p *Processor) Process(ctx context.Context, utterance string, tc TurnContext) command.UnifiedResult {
	return p.process(ctx, utterance, tc, nil)
}

// process runs one turn. When claim is set the exchange is recorded only if
// claim returns true, so a caller that gave up on the turn can record its
// own outcome instead.
func (p *Processor) process(ctx context.Context, utterance string, tc TurnContext, claim func() bool) command.UnifiedResult {
	start := time.Now()
	utterance = strings.TrimSpace(utterance)
	cls := command.Classify(utterance)
	if cls.Empty() && utterance == "" {
		return emptyResult(true, command.KindGeneral)
	}

	dialect := cls.Dialect()
	prompt := command.BuildPrompt(command.PromptInput{
		Classification: cls,
		CurrentRoom:    tc.CurrentRoom,
		Now:            p.now(),
		Registry:       p.registry,
		History:        p.history.Tail(p.cfg.PromptTailTurns, p.cfg.TurnTruncateChars),
	})

	req := llm.Request{
		System:      prompt,
		Input:       utterance,
		Dialect:     string(dialect),
		Temperature: p.cfg.TemperatureGeneral,
	}
	if dialect == command.DialectSmartHome {
		req.Temperature = p.cfg.TemperatureSmartHome
		req.Validate = command.HasValidSentinel
		req.Reinforcement = reinforcement
	}

	llmStart := time.Now()
	resp, err := p.gen.Generate(ctx, req)
	p.metrics.ObserveStage("llm", time.Since(llmStart))
	if err != nil {
		p.log.Error().Err(err).Str("dialect", string(dialect)).Msg("llm generation failed")
		return p.finishFailure(utterance, tc, fmt.Errorf("generate reply: %w", err), start, claim)
	}
	if !resp.Valid {
		p.log.Warn().Int("attempts", resp.Attempts).Msg("model never produced a valid task block, using keyword fallback")
		p.metrics.ObserveIndicator("keyword_fallback")
	}

	parsed := p.parser.Parse(resp.Text, dialect, utterance)
	if dialect == command.DialectSmartHome && !parsed.BlockValid && len(parsed.Tasks) == 0 && len(parsed.ToolCalls) == 0 {
		return p.finishFailure(utterance, tc, ErrNoTasks, start, claim)
	}

	toolResults := map[string]string{}
	var renderings []string
	if len(parsed.ToolCalls) > 0 {
		toolsStart := time.Now()
		results := p.executor.Execute(ctx, parsed.ToolCalls)
		p.metrics.ObserveStage("tools", time.Since(toolsStart))
		toolResults = tools.ResultMap(results)
		for _, r := range results {
			if line := renderToolResult(r); line != "" && !strings.Contains(parsed.Prose, r.Output) {
				renderings = append(renderings, line)
			}
		}
	}

	result := command.UnifiedResult{
		Success:      true,
		ResponseText: composeReply(parsed, renderings),
		Tasks:        nonNilTasks(parsed.Tasks),
		ToolCalls:    nonNilCalls(parsed.ToolCalls),
		ToolResults:  toolResults,
		Kind:         command.KindFor(len(parsed.Tasks) > 0, len(parsed.ToolCalls) > 0),
	}

	source := "model"
	if parsed.Fallback {
		source = "fallback"
	}
	for _, t := range result.Tasks {
		p.metrics.ObserveTask(t.Action, source)
	}
	p.finish(utterance, tc, result, start, claim)
	p.log.Info().
		Str("kind", string(result.Kind)).
		Int("tasks", len(result.Tasks)).
		Int("tool_calls", len(result.ToolCalls)).
		Int("llm_attempts", resp.Attempts).
		Dur("elapsed", time.Since(start)).
		Msg("utterance processed")
	return result
}

// ProcessCommand is the blocking entry point for callers without their own
// deadline. The pipeline runs on its own goroutine bounded by the command
// budget; a panic or timeout yields the apology result. Exactly one exchange
// is recorded per call: either the pipeline's or the timeout apology.
func (p *Processor) ProcessCommand(ctx context.Context, utterance string, tc TurnContext) command.UnifiedResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CommandBudget)
	defer cancel()

	var recorded atomic.Bool
	claim := func() bool { return recorded.CompareAndSwap(false, true) }

	done := make(chan command.UnifiedResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("processor panic")
				done <- p.finishFailure(strings.TrimSpace(utterance), tc, fmt.Errorf("processor panic: %v", r), start, claim)
			}
		}()
		done <- p.process(ctx, utterance, tc, claim)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		p.log.Error().Err(ctx.Err()).Msg("command budget exceeded")
		return p.finishFailure(strings.TrimSpace(utterance), tc, fmt.Errorf("process command: %w", ctx.Err()), start, claim)
	}
}

func (p *Processor) finishFailure(utterance string, tc TurnContext, err error, start time.Time, claim func() bool) command.UnifiedResult {
	res := failureResult(err)
	p.finish(utterance, tc, res, start, claim)
	return res
}

// finish records the exchange. Only prose is kept in history.
func (p *Processor) finish(utterance string, tc TurnContext, res command.UnifiedResult, start time.Time, claim func() bool) {
	if claim != nil && !claim() {
		return
	}
	user := memory.Turn{Role: memory.RoleUser, Content: utterance}
	assistant := memory.Turn{Role: memory.RoleAssistant, Content: res.ResponseText, Kind: string(res.Kind)}
	p.history.Append(user, assistant)
	p.archiveBestEffort(tc.SessionID, user, assistant)
	p.metrics.ObserveResult(string(res.Kind), res.Success)
	p.metrics.ObserveStage("command_total", time.Since(start))
}

func (p *Processor) archiveBestEffort(sessionID string, turns ...memory.Turn) {
	if p.archive == nil {
		return
	}
	now := time.Now().UTC()
	records := make([]memory.ArchivedTurn, 0, len(turns))
	for i, t := range turns {
		red := policy.RedactPII(t.Content)
		records = append(records, memory.ArchivedTurn{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Role:        t.Role,
			Kind:        t.Kind,
			Content:     red.Text,
			PIIRedacted: red.Changed(),
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
		defer cancel()
		for _, r := range records {
			if err := p.archive.SaveTurn(ctx, r); err != nil {
				p.log.Warn().Err(err).Msg("archive write failed")
				p.metrics.ObserveIndicator("archive_save_failed")
				return
			}
		}
	}()
}

func composeReply(parsed command.Parsed, renderings []string) string {
	var parts []string
	switch {
	case parsed.Prose != "" && !parsed.Fallback:
		parts = append(parts, parsed.Prose)
	case len(parsed.Tasks) > 0:
		parts = append(parts, command.DescribeTasks(parsed.Tasks))
	case parsed.Prose != "":
		parts = append(parts, parsed.Prose)
	}
	parts = append(parts, renderings...)
	if len(parts) == 0 {
		return FallbackReply
	}
	return strings.Join(parts, " ")
}

// renderToolResult turns one tool output into a spoken sentence.
func renderToolResult(r tools.Result) string {
	out := strings.TrimSpace(r.Output)
	if r.Err != nil || strings.HasPrefix(out, "Error:") {
		return fmt.Sprintf("Sorry, I couldn't run %s.", strings.ReplaceAll(r.Call.Tool, "_", " "))
	}
	switch r.Call.Tool {
	case "get_time":
		return "The current time is " + out + "."
	case "calculate":
		if out == tools.InvalidExpressionResult || strings.HasPrefix(out, "Calculation error") {
			return "I couldn't calculate that."
		}
		return "The answer is " + out + "."
	case "get_weather":
		return sentence(out)
	case "web_search":
		return "Here's what I found: " + sentence(out)
	default:
		return sentence(out)
	}
}

func sentence(s string) string {
	if s == "" || strings.ContainsAny(s[len(s)-1:], ".!?") {
		return s
	}
	return s + "."
}

func failureResult(err error) command.UnifiedResult {
	res := emptyResult(false, command.KindError)
	res.ResponseText = Apology
	res.Error = err.Error()
	return res
}

func emptyResult(success bool, kind command.Kind) command.UnifiedResult {
	return command.UnifiedResult{
		Success:     success,
		Tasks:       []command.Task{},
		ToolCalls:   []tools.ToolCall{},
		ToolResults: map[string]string{},
		Kind:        kind,
	}
}

func nonNilTasks(t []command.Task) []command.Task {
	if t == nil {
		return []command.Task{}
	}
	return t
}

func nonNilCalls(c []tools.ToolCall) []tools.ToolCall {
	if c == nil {
		return []tools.ToolCall{}
	}
	return c
}
