// Package mcpserver exposes the assistant's tools and command pipeline over
// the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/command"
	"github.com/ent0n29/totoro/internal/processor"
	"github.com/ent0n29/totoro/internal/tools"
)

type Config struct {
	ServerName    string
	ServerVersion string
}

// CommandProcessor runs one utterance through the full pipeline.
type CommandProcessor interface {
	ProcessCommand(ctx context.Context, utterance string, tc processor.TurnContext) command.UnifiedResult
}

type Server struct {
	cfg       Config
	registry  *tools.Registry
	executor  *tools.Executor
	proc      CommandProcessor
	room      string
	mcpServer *sdk.Server
	log       zerolog.Logger
}

type ProcessCommandArgs struct {
	Text string `json:"text" jsonschema:"the command as the user would say it"`
	Room string `json:"room,omitempty" jsonschema:"room the user is in, for example living_room"`
}

type RunToolArgs struct {
	Name       string            `json:"name" jsonschema:"general tool name, see list_capabilities"`
	Parameters map[string]string `json:"parameters,omitempty" jsonschema:"tool parameters by name"`
}

type ListCapabilitiesArgs struct{}

func NewServer(cfg Config, registry *tools.Registry, proc CommandProcessor, defaultRoom string, log zerolog.Logger) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "totoro"
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		executor: tools.NewExecutor(registry, tools.WithLogger(log)),
		proc:     proc,
		room:     defaultRoom,
		log:      log,
	}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "process_command",
		Description: "Run a spoken-style command through the assistant and return its reply and smart-home tasks",
	}, s.handleProcessCommand)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "run_tool",
		Description: "Run one general tool (time, calculator, weather, search) directly",
	}, s.handleRunTool)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_capabilities",
		Description: "List the smart-home actions and general tools with their parameters",
	}, s.handleListCapabilities)
}

func (s *Server) handleProcessCommand(ctx context.Context, _ *sdk.CallToolRequest, args ProcessCommandArgs) (*sdk.CallToolResult, any, error) {
	text := strings.TrimSpace(args.Text)
	if text == "" {
		return nil, nil, fmt.Errorf("text is required")
	}
	room := args.Room
	if room == "" {
		room = s.room
	}
	res := s.proc.ProcessCommand(ctx, text, processor.TurnContext{CurrentRoom: room})

	content := []sdk.Content{&sdk.TextContent{Text: res.ResponseText}}
	if len(res.Tasks) > 0 {
		raw, err := json.Marshal(map[string]any{"tasks": res.Tasks})
		if err != nil {
			return nil, nil, fmt.Errorf("encode tasks: %w", err)
		}
		content = append(content, &sdk.TextContent{Text: command.SentinelToken + " " + string(raw)})
	}
	return &sdk.CallToolResult{Content: content, IsError: !res.Success}, nil, nil
}

func (s *Server) handleRunTool(ctx context.Context, _ *sdk.CallToolRequest, args RunToolArgs) (*sdk.CallToolResult, any, error) {
	spec, ok := s.registry.LookupTool(args.Name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown tool %q", args.Name)
	}
	params := map[string]string{}
	for k, v := range args.Parameters {
		if spec.HasParameter(k) {
			params[k] = v
		}
	}
	results := s.executor.Execute(ctx, []tools.ToolCall{{Tool: spec.Name, Parameters: params}})
	r := results[0]
	if r.Err != nil {
		s.log.Debug().Err(r.Err).Str("tool", spec.Name).Msg("tool failed")
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: r.Err.Error()}},
			IsError: true,
		}, nil, nil
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: r.Output}}}, nil, nil
}

func (s *Server) handleListCapabilities(context.Context, *sdk.CallToolRequest, ListCapabilitiesArgs) (*sdk.CallToolResult, any, error) {
	var b strings.Builder
	for _, group := range []struct {
		title string
		cat   tools.Category
	}{
		{"Smart-home actions", tools.CategorySmartHome},
		{"General tools", tools.CategoryGeneral},
	} {
		fmt.Fprintf(&b, "%s:\n", group.title)
		for _, spec := range s.registry.ListByCategory(group.cat) {
			fmt.Fprintf(&b, "- %s(%s): %s\n", spec.Name, strings.Join(spec.ParameterNames, ", "), spec.Description)
		}
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: strings.TrimRight(b.String(), "\n")}}}, nil, nil
}
