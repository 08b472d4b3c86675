package processor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/totoro/internal/command"
	"github.com/ent0n29/totoro/internal/llm"
	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/tools"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type scriptedGenerator struct {
	mu    sync.Mutex
	calls []llm.Request
	reply func(req llm.Request) (llm.Response, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	return g.reply(req)
}

func (g *scriptedGenerator) requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.calls...)
}

func replyWith(text string) func(llm.Request) (llm.Response, error) {
	return func(req llm.Request) (llm.Response, error) {
		valid := req.Validate == nil || req.Validate(text)
		return llm.Response{Text: text, Attempts: 1, Valid: valid}, nil
	}
}

func newTestProcessor(gen llm.Generator, opts ...Option) *Processor {
	clock := func() time.Time { return fixedNow }
	cfg := Config{
		TemperatureSmartHome: 0.1,
		TemperatureGeneral:   0.7,
		HistoryMaxTurns:      20,
		PromptTailTurns:      6,
		TurnTruncateChars:    200,
	}
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(cfg, tools.DefaultRegistry(clock), gen, opts...)
}

func TestProcessSmartHomeSingleAction(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("Turning on the living room lights.\n" +
		`SMART_HOME_JSON: {"tasks":[{"action":"turn_on_lights","target":"living_room","parameters":{"room":"living_room"},"room":"living_room","priority":1}]}`)}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "Turn on the living room lights", TurnContext{CurrentRoom: "living_room"})
	if !res.Success || res.Kind != command.KindSmartHome {
		t.Fatalf("result = %+v, want successful smart_home", res)
	}
	if len(res.Tasks) != 1 {
		t.Fatalf("len(Tasks) = %d, want 1", len(res.Tasks))
	}
	task := res.Tasks[0]
	if task.Action != "turn_on_lights" || task.Target != "living_room" || task.Room != "living_room" || task.Priority != 1 {
		t.Fatalf("task = %+v", task)
	}
	if task.Parameters["room"] != "living_room" {
		t.Fatalf("task.Parameters = %v, want room=living_room", task.Parameters)
	}
	if len(res.ToolCalls) != 0 {
		t.Fatalf("ToolCalls = %v, want none", res.ToolCalls)
	}
	lower := strings.ToLower(res.ResponseText)
	if !strings.Contains(lower, "living room") || !strings.Contains(lower, "lights") {
		t.Fatalf("ResponseText = %q, want mention of living room lights", res.ResponseText)
	}

	reqs := gen.requests()
	if len(reqs) != 1 || reqs[0].Temperature != 0.1 || reqs[0].Validate == nil {
		t.Fatalf("llm request = %+v, want validated smart-home request", reqs)
	}
}

func TestProcessSmartHomeFallsBackToKeywords(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("Sure thing!")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "Turn on the living room lights", TurnContext{CurrentRoom: "living_room"})
	if !res.Success || len(res.Tasks) != 1 || res.Tasks[0].Action != "turn_on_lights" {
		t.Fatalf("result = %+v, want fallback turn_on_lights task", res)
	}
	lower := strings.ToLower(res.ResponseText)
	if !strings.Contains(lower, "living room") || !strings.Contains(lower, "lights") {
		t.Fatalf("ResponseText = %q, want task confirmation", res.ResponseText)
	}
}

func TestProcessHybrid(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("Lights on, and here is the time.\n" +
		`SMART_HOME_JSON: {"tasks":[{"action":"turn_on_lights","target":"bedroom","parameters":{"room":"bedroom"},"room":"bedroom"}]}` +
		"\nTOOL_CALL: get_time()")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "Turn on bedroom lights and what time is it?", TurnContext{})
	if res.Kind != command.KindHybrid {
		t.Fatalf("Kind = %q, want hybrid", res.Kind)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].Target != "bedroom" {
		t.Fatalf("Tasks = %+v, want bedroom lights", res.Tasks)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Tool != "get_time" {
		t.Fatalf("ToolCalls = %+v, want get_time", res.ToolCalls)
	}
	want := fixedNow.Format(tools.TimeLayout)
	if !strings.Contains(res.ResponseText, want) {
		t.Fatalf("ResponseText = %q, want current time %q", res.ResponseText, want)
	}
	if strings.Contains(res.ResponseText, "TOOL_CALL") || strings.Contains(res.ResponseText, "SMART_HOME_JSON") {
		t.Fatalf("ResponseText leaks wire markers: %q", res.ResponseText)
	}
}

func TestProcessPureGeneralCalculation(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith(`TOOL_CALL: calculate(expression="15 * 23")`)}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "What's 15 * 23?", TurnContext{})
	if !res.Success || res.Kind != command.KindGeneral {
		t.Fatalf("result = %+v, want successful general", res)
	}
	if len(res.Tasks) != 0 {
		t.Fatalf("Tasks = %v, want none", res.Tasks)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Parameters["expression"] != "15 * 23" {
		t.Fatalf("ToolCalls = %+v", res.ToolCalls)
	}
	if res.ToolResults["calculate"] != "345" {
		t.Fatalf("ToolResults[calculate] = %q, want 345", res.ToolResults["calculate"])
	}
	if !strings.Contains(res.ResponseText, "345") {
		t.Fatalf("ResponseText = %q, want 345", res.ResponseText)
	}
	if reqs := gen.requests(); reqs[0].Validate != nil || reqs[0].Temperature != 0.7 {
		t.Fatalf("general request = %+v, want no validation at 0.7", reqs[0])
	}
}

func TestProcessUnsafeCalculation(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith(`TOOL_CALL: calculate(expression="__import__('os').system('x')")`)}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "calculate something for me", TurnContext{})
	if got := res.ToolResults["calculate"]; got != "Invalid expression" {
		t.Fatalf("ToolResults[calculate] = %q, want Invalid expression", got)
	}
	if !res.Success {
		t.Fatalf("Success = false, want true with a rejected expression")
	}
}

func TestProcessEmptyUtterance(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("unused")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "   ", TurnContext{})
	if !res.Success || res.ResponseText != "" || len(res.Tasks) != 0 || len(res.ToolCalls) != 0 {
		t.Fatalf("result = %+v, want neutral success", res)
	}
	if len(gen.requests()) != 0 {
		t.Fatalf("generator called for empty utterance")
	}
	if p.History().Len() != 0 {
		t.Fatalf("history len = %d, want 0", p.History().Len())
	}
}

func TestProcessSmartHomeWithoutAnyTaskFails(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("not json at all")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "set the mood in the bedroom", TurnContext{})
	if res.Success || res.Kind != command.KindError {
		t.Fatalf("result = %+v, want error kind", res)
	}
	if res.ResponseText != Apology {
		t.Fatalf("ResponseText = %q, want apology", res.ResponseText)
	}
	if !strings.Contains(res.Error, ErrNoTasks.Error()) {
		t.Fatalf("Error = %q, want ErrNoTasks", res.Error)
	}
}

func TestProcessTransportFailureSurfacesApology(t *testing.T) {
	gen := &scriptedGenerator{reply: func(llm.Request) (llm.Response, error) {
		return llm.Response{}, &llm.StatusError{Code: 503, Body: "overloaded"}
	}}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "tell me about owls", TurnContext{})
	if res.Success || res.Kind != command.KindError || res.ResponseText != Apology {
		t.Fatalf("result = %+v, want apology error", res)
	}
	turns := p.History().Snapshot()
	if len(turns) != 2 || turns[1].Content != Apology || turns[1].Kind != string(command.KindError) {
		t.Fatalf("history = %+v, want user turn and apology", turns)
	}
}

func TestProcessPureChatUsesProse(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("Owls can rotate their heads about 270 degrees.")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "tell me about owls", TurnContext{})
	if res.Kind != command.KindGeneral || res.ResponseText != "Owls can rotate their heads about 270 degrees." {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessEmptyReplyUsesFallbackProse(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("   ")}
	p := newTestProcessor(gen)

	res := p.Process(context.Background(), "hello there", TurnContext{})
	if res.ResponseText != FallbackReply {
		t.Fatalf("ResponseText = %q, want %q", res.ResponseText, FallbackReply)
	}
}

func TestProcessHistoryBoundAndTail(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("ok")}
	p := newTestProcessor(gen)

	for i := 0; i < 15; i++ {
		p.Process(context.Background(), "tell me something", TurnContext{})
	}
	last := "what is the news today"
	p.Process(context.Background(), last, TurnContext{})

	turns := p.History().Snapshot()
	if len(turns) != 20 {
		t.Fatalf("history len = %d, want 20", len(turns))
	}
	if turns[18].Role != memory.RoleUser || turns[18].Content != last || turns[19].Role != memory.RoleAssistant {
		t.Fatalf("tail = %+v, want latest user/assistant pair", turns[18:])
	}

	reqs := gen.requests()
	if !strings.Contains(reqs[len(reqs)-1].System, "Recent conversation:") {
		t.Fatalf("prompt has no history section")
	}
}

func TestProcessConcurrentCallsKeepPairsAdjacent(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("ok")}
	p := newTestProcessor(gen)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), "tell me a joke", TurnContext{})
		}()
	}
	wg.Wait()

	turns := p.History().Snapshot()
	for i := 0; i+1 < len(turns); i += 2 {
		if turns[i].Role != memory.RoleUser || turns[i+1].Role != memory.RoleAssistant {
			t.Fatalf("turns %d/%d = %s/%s, want user/assistant", i, i+1, turns[i].Role, turns[i+1].Role)
		}
	}
}

func TestProcessArchivesRedactedTurns(t *testing.T) {
	archive := memory.NewInMemoryArchive(10)
	gen := &scriptedGenerator{reply: replyWith("I'll remember that.")}
	p := newTestProcessor(gen, WithArchive(archive))

	p.Process(context.Background(), "tell me about mail to jane@example.com", TurnContext{SessionID: "s1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, err := archive.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(turns) == 2 {
			if strings.Contains(turns[0].Content, "jane@example.com") || !turns[0].PIIRedacted {
				t.Fatalf("archived user turn = %+v, want redacted", turns[0])
			}
			if turns[0].SessionID != "s1" || turns[1].Role != memory.RoleAssistant {
				t.Fatalf("archived turns = %+v", turns)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("archive has %d turns, want 2", len(turns))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessCommandBudget(t *testing.T) {
	gen := &scriptedGenerator{reply: func(llm.Request) (llm.Response, error) {
		time.Sleep(200 * time.Millisecond)
		return llm.Response{Text: "late", Attempts: 1, Valid: true}, nil
	}}
	clock := func() time.Time { return fixedNow }
	p := New(Config{HistoryMaxTurns: 20, CommandBudget: 20 * time.Millisecond}, tools.DefaultRegistry(clock), gen)

	start := time.Now()
	res := p.ProcessCommand(context.Background(), "tell me about owls", TurnContext{})
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("ProcessCommand() took %s, want bounded by budget", time.Since(start))
	}
	if res.Success || res.ResponseText != Apology {
		t.Fatalf("result = %+v, want apology", res)
	}
	if !strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("Error = %q, want deadline exceeded", res.Error)
	}
	assertApologyPair := func() {
		t.Helper()
		turns := p.History().Snapshot()
		if len(turns) != 2 {
			t.Fatalf("history len = %d, want 2", len(turns))
		}
		if turns[0].Content != "tell me about owls" || turns[1].Content != Apology {
			t.Fatalf("history = %+v, want user turn and apology", turns)
		}
	}
	assertApologyPair()

	// the abandoned pipeline finishes later and must not add its own pair
	time.Sleep(300 * time.Millisecond)
	assertApologyPair()
}

func TestProcessCommandRecoversPanic(t *testing.T) {
	gen := &scriptedGenerator{reply: func(llm.Request) (llm.Response, error) {
		panic("boom")
	}}
	p := newTestProcessor(gen)

	res := p.ProcessCommand(context.Background(), "tell me about owls", TurnContext{})
	if res.Success || !strings.Contains(res.Error, "boom") {
		t.Fatalf("result = %+v, want recovered panic", res)
	}
}

func TestProcessCanceledContext(t *testing.T) {
	gen := &scriptedGenerator{reply: replyWith("unused")}
	p := newTestProcessor(gen)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Process(ctx, "tell me about owls", TurnContext{})
	if res.Success || res.Kind != command.KindError {
		t.Fatalf("result = %+v, want failure", res)
	}
	if !strings.Contains(res.Error, context.Canceled.Error()) {
		t.Fatalf("Error = %q, want context canceled", res.Error)
	}
}
