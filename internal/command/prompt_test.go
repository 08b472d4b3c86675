package command

import (
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/tools"
)

func promptInput(utterance string) PromptInput {
	return PromptInput{
		Classification: Classify(utterance),
		CurrentRoom:    "living_room",
		Now:            time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC),
		Registry:       tools.DefaultRegistry(nil),
	}
}

func TestBuildPromptSmartHomeDialect(t *testing.T) {
	p := BuildPrompt(promptInput("turn on the kitchen lights"))

	for _, want := range []string{
		SentinelToken,
		"- turn_on_lights: Turn on lights in a room (parameters: room, brightness, color)",
		"- get_time: Get the current date and time (parameters: none)",
		"Current room: living_room",
		"Current time: Monday, May 4, 2026 18:30",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "mixes device control") {
		t.Fatalf("non-hybrid prompt carries the hybrid hint")
	}
}

func TestBuildPromptGeneralDialectOmitsActions(t *testing.T) {
	p := BuildPrompt(promptInput("what's the weather"))
	if strings.Contains(p, "turn_on_lights") {
		t.Fatalf("general prompt lists smart-home actions:\n%s", p)
	}
	if !strings.Contains(p, ToolCallMarker+" calculate(expression=") {
		t.Fatalf("general prompt missing tool-call example")
	}
	if strings.Contains(p, SentinelToken) {
		t.Fatalf("general prompt mentions the sentinel")
	}
}

func TestBuildPromptHybridHintAndHistory(t *testing.T) {
	in := promptInput("turn on bedroom lights and what time is it")
	in.CurrentRoom = ""
	in.History = []memory.Turn{
		{Role: memory.RoleUser, Content: "hello"},
		{Role: memory.RoleAssistant, Content: "Hi there!"},
	}
	p := BuildPrompt(in)

	if !strings.Contains(p, "mixes device control") {
		t.Fatalf("hybrid prompt missing hint")
	}
	if !strings.Contains(p, "Current room: unknown") {
		t.Fatalf("empty room not rendered as unknown")
	}
	if !strings.HasSuffix(p, "Recent conversation:\nUser: hello\nAssistant: Hi there!") {
		t.Fatalf("history tail not rendered last:\n%s", p)
	}
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	in := promptInput("set the thermostat to 70 and explain why")
	if BuildPrompt(in) != BuildPrompt(in) {
		t.Fatalf("BuildPrompt() differs for identical input")
	}
}
