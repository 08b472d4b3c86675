package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/tools"
)

// Wire format shared by the prompt templates and the parser. Version 1.
const (
	SentinelToken  = "SMART_HOME_JSON:"
	ToolCallMarker = "TOOL_CALL:"
)

const promptTimeLayout = "Monday, January 2, 2006 15:04"

// PromptInput carries everything the prompt depends on.
type PromptInput struct {
	Classification Classification
	CurrentRoom    string
	Now            time.Time
	Registry       *tools.Registry
	History        []memory.Turn
}

// BuildPrompt renders the system prompt. The output depends only on in.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	dialect := in.Classification.Dialect()

	b.WriteString("You are Totoro, a friendly voice assistant for a smart home. ")
	if dialect == DialectSmartHome {
		b.WriteString("You control devices in the house and can also answer questions.\n\n")
	} else {
		b.WriteString("Answer conversationally in one to three short sentences; your reply is spoken aloud.\n\n")
	}

	room := strings.TrimSpace(in.CurrentRoom)
	if room == "" {
		room = "unknown"
	}
	fmt.Fprintf(&b, "Current time: %s\n", in.Now.Format(promptTimeLayout))
	fmt.Fprintf(&b, "Current room: %s\n\n", room)

	if dialect == DialectSmartHome {
		writeCapabilities(&b, "Smart-home actions", in.Registry.ListByCategory(tools.CategorySmartHome))
	}
	writeCapabilities(&b, "Tools", in.Registry.ListByCategory(tools.CategoryGeneral))

	if dialect == DialectSmartHome {
		writeSmartHomeRules(&b, in.Classification)
	} else {
		writeGeneralRules(&b)
	}

	if len(in.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range in.History {
			speaker := "User"
			if turn.Role == memory.RoleAssistant {
				speaker = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(turn.Content))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeCapabilities(b *strings.Builder, title string, specs []tools.Spec) {
	fmt.Fprintf(b, "%s:\n", title)
	if len(specs) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, s := range specs {
		params := "none"
		if len(s.ParameterNames) > 0 {
			params = strings.Join(s.ParameterNames, ", ")
		}
		fmt.Fprintf(b, "- %s: %s (parameters: %s)\n", s.Name, s.Description, params)
	}
	b.WriteString("\n")
}

func writeSmartHomeRules(b *strings.Builder, c Classification) {
	b.WriteString("Reply with one short spoken sentence describing what you are doing. ")
	fmt.Fprintf(b, "Then, on its own line, write %s followed by a single-line JSON object:\n", SentinelToken)
	fmt.Fprintf(b, `%s {"tasks": [{"action": "<action>", "target": "<room or device>", "parameters": {...}, "room": "<room>", "priority": 1}]}`+"\n\n", SentinelToken)
	b.WriteString("Rules:\n")
	b.WriteString("- Use only the action names listed above and only their listed parameters.\n")
	b.WriteString("- Rooms use underscores, for example living_room.\n")
	b.WriteString("- Brightness is 0-255. Volume is 0-100. Priority 1 is the highest, 5 the lowest.\n")
	fmt.Fprintf(b, "- If the user also asks for information, add one line per tool: %s name(arg=\"value\")\n", ToolCallMarker)
	if c.IsHybrid {
		b.WriteString("- This request mixes device control with a question. Handle both parts.\n")
	}
	b.WriteString("\nExamples:\n")
	b.WriteString("User: Turn on the kitchen lights\n")
	b.WriteString("Assistant: Turning on the kitchen lights.\n")
	fmt.Fprintf(b, `%s {"tasks": [{"action": "turn_on_lights", "target": "kitchen", "parameters": {"room": "kitchen"}, "room": "kitchen", "priority": 1}]}`+"\n\n", SentinelToken)
	b.WriteString("User: Dim the bedroom lights and what time is it?\n")
	b.WriteString("Assistant: Dimming the bedroom lights now.\n")
	fmt.Fprintf(b, `%s {"tasks": [{"action": "turn_on_lights", "target": "bedroom", "parameters": {"room": "bedroom", "brightness": 64}, "room": "bedroom", "priority": 1}]}`+"\n", SentinelToken)
	fmt.Fprintf(b, "%s get_time()\n\n", ToolCallMarker)
	b.WriteString("User: Play some jazz in the living room\n")
	b.WriteString("Assistant: Putting on some jazz for you.\n")
	fmt.Fprintf(b, `%s {"tasks": [{"action": "play_music", "target": "living_room", "parameters": {"query": "jazz", "type": "playlist"}, "room": "living_room", "priority": 2}]}`+"\n", SentinelToken)
}

func writeGeneralRules(b *strings.Builder) {
	fmt.Fprintf(b, "When you need one of these tools, write it on its own line as: %s name(arg=\"value\")\n", ToolCallMarker)
	b.WriteString("Use exactly the tool names above. Do not guess tool results; they are added after your reply.\n")
	b.WriteString("\nExamples:\n")
	b.WriteString("User: What's 12 * 4?\n")
	b.WriteString("Assistant: Let me work that out.\n")
	fmt.Fprintf(b, "%s calculate(expression=\"12 * 4\")\n\n", ToolCallMarker)
	b.WriteString("User: What's the weather like in Osaka?\n")
	b.WriteString("Assistant: I'll check the forecast.\n")
	fmt.Fprintf(b, "%s get_weather(location=\"Osaka\")\n\n", ToolCallMarker)
	b.WriteString("User: Tell me a fun fact about owls\n")
	b.WriteString("Assistant: Owls can rotate their heads about 270 degrees.\n")
}
