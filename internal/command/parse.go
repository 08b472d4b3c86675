package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/tools"
)

var (
	toolCallPattern = regexp.MustCompile(`TOOL_CALL:\s*([A-Za-z_]\w*)\s*\(((?:"[^"]*"|'[^']*'|[^()"'])*)\)`)
	toolArgPattern  = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^,"')]+))`)
	trailingComma   = regexp.MustCompile(`,\s*([}\]])`)
	fenceLine       = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// Parsed is the structured reading of a model response.
type Parsed struct {
	Tasks     []Task
	ToolCalls []tools.ToolCall
	Prose     string

	// BlockValid is set when the first sentinel block decoded as an object
	// with a tasks list.
	BlockValid bool
	// Blocks counts sentinel occurrences; only the first is used.
	Blocks int
	// Fallback is set when tasks came from keyword rules.
	Fallback bool
}

// Parser extracts tasks, tool calls and prose from model output.
type Parser struct {
	registry *tools.Registry
	log      zerolog.Logger
}

func NewParser(registry *tools.Registry, log zerolog.Logger) *Parser {
	return &Parser{registry: registry, log: log}
}

// Parse reads response. The keyword fallback runs on utterance only in the
// smart-home dialect and only when the sentinel block produced no tasks.
func (p *Parser) Parse(response string, dialect Dialect, utterance string) Parsed {
	var out Parsed
	var spans []span

	blocks := findSentinelBlocks(response)
	out.Blocks = len(blocks)
	if len(blocks) > 0 {
		first := blocks[0]
		if len(blocks) > 1 {
			p.log.Warn().Int("discarded", len(blocks)-1).Msg("multiple sentinel blocks, using the first")
		}
		if first.valid {
			out.BlockValid = true
			out.Tasks = p.coerceTasks(first.tasks)
		} else {
			p.log.Debug().Str("block", first.raw).Msg("sentinel block did not decode")
		}
		for _, b := range blocks {
			spans = append(spans, b.span)
		}
	}

	calls, callSpans := p.parseToolCalls(response)
	out.ToolCalls = calls
	spans = append(spans, callSpans...)

	if dialect == DialectSmartHome && len(out.Tasks) == 0 {
		if task, ok := FallbackTask(utterance, p.registry); ok {
			out.Tasks = []Task{task}
			out.Fallback = true
			p.log.Debug().Str("action", task.Action).Msg("keyword fallback produced a task")
		}
	}

	out.Prose = cleanProse(response, spans)
	return out
}

// HasValidSentinel reports whether response carries a decodable sentinel
// block. It is the validity check for smart-home replies.
func HasValidSentinel(response string) bool {
	blocks := findSentinelBlocks(response)
	return len(blocks) > 0 && blocks[0].valid
}

type span struct{ start, end int }

type sentinelBlock struct {
	span  span
	raw   string
	valid bool
	tasks []map[string]any
}

func findSentinelBlocks(s string) []sentinelBlock {
	var blocks []sentinelBlock
	pos := 0
	for {
		idx := strings.Index(s[pos:], SentinelToken)
		if idx < 0 {
			return blocks
		}
		start := pos + idx
		bodyStart := start + len(SentinelToken)
		limit := len(s)
		if next := strings.Index(s[bodyStart:], SentinelToken); next >= 0 {
			limit = bodyStart + next
		}

		block := sentinelBlock{span: span{start, bodyStart}}
		if brace := strings.IndexByte(s[bodyStart:limit], '{'); brace >= 0 {
			open := bodyStart + brace
			segment := s[open:limit]
			if end, ok := balancedObjectEnd(segment); ok {
				block.raw = segment[:end]
				block.tasks, block.valid = decodeTasks(block.raw)
				block.span.end = open + end
			}
			if !block.valid {
				// lenient: outermost braces, tolerating trailing commas
				if last := strings.LastIndexByte(segment, '}'); last >= 0 {
					candidate := segment[:last+1]
					if tasks, ok := decodeTasks(candidate); ok {
						block.tasks, block.valid = tasks, true
					} else if tasks, ok := decodeTasks(trailingComma.ReplaceAllString(candidate, "$1")); ok {
						block.tasks, block.valid = tasks, true
					}
					block.raw = candidate
					if open+last+1 > block.span.end {
						block.span.end = open + last + 1
					}
				}
			}
		}
		blocks = append(blocks, block)
		pos = bodyStart
	}
}

// balancedObjectEnd returns the length of the JSON object at the start of s,
// honouring string literals and escapes.
func balancedObjectEnd(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func decodeTasks(raw string) ([]map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	rawTasks, ok := obj["tasks"]
	if !ok {
		return nil, false
	}
	tdec := json.NewDecoder(bytes.NewReader(rawTasks))
	tdec.UseNumber()
	var items []any
	if err := tdec.Decode(&items); err != nil {
		return nil, false
	}
	tasks := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			tasks = append(tasks, m)
		}
	}
	return tasks, true
}

func (p *Parser) coerceTasks(raw []map[string]any) []Task {
	out := make([]Task, 0, len(raw))
	for _, entry := range raw {
		task, ok := p.coerceTask(entry)
		if !ok {
			continue
		}
		out = append(out, task)
	}
	return out
}

func (p *Parser) coerceTask(entry map[string]any) (Task, bool) {
	name, _ := entry["action"].(string)
	name = strings.TrimSpace(name)
	spec, ok := p.registry.LookupAction(name)
	if !ok {
		p.log.Debug().Str("action", name).Msg("dropping unknown action")
		return Task{}, false
	}

	task := Task{Action: spec.Name, Parameters: map[string]any{}, Priority: 1}
	if params, ok := entry["parameters"].(map[string]any); ok {
		for k, v := range params {
			if !spec.HasParameter(k) {
				continue
			}
			scalar, ok := normalizeScalar(v)
			if !ok {
				continue
			}
			if k == "room" {
				if s, isString := scalar.(string); isString {
					scalar = NormalizeRoom(s)
				}
			}
			task.Parameters[k] = scalar
		}
	}
	if room, ok := entry["room"].(string); ok {
		task.Room = NormalizeRoom(room)
	}
	if target, ok := normalizeScalar(entry["target"]); ok {
		task.Target = strings.TrimSpace(fmt.Sprint(target))
	}
	if task.Target == "" {
		switch {
		case task.Room != "":
			task.Target = task.Room
		case task.Parameters["device"] != nil:
			task.Target = fmt.Sprint(task.Parameters["device"])
		default:
			task.Target = "default"
		}
	}
	if n, ok := entry["priority"].(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			task.Priority = clampPriority(int(f))
		}
	}
	return task, true
}

func normalizeScalar(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return x, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		if f, err := x.Float64(); err == nil {
			if f == float64(int(f)) {
				return int(f), true
			}
			return f, true
		}
		return nil, false
	case int:
		return x, true
	case float64:
		return x, true
	default:
		return nil, false
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// NormalizeRoom lower-cases a room name and joins words with underscores.
func NormalizeRoom(room string) string {
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(room, "-", " ")))
	return strings.Join(fields, "_")
}

func (p *Parser) parseToolCalls(response string) ([]tools.ToolCall, []span) {
	matches := toolCallPattern.FindAllStringSubmatchIndex(response, -1)
	var (
		calls []tools.ToolCall
		spans []span
		seen  = map[string]struct{}{}
	)
	for _, m := range matches {
		spans = append(spans, span{m[0], m[1]})
		name := response[m[2]:m[3]]
		spec, ok := p.registry.LookupTool(name)
		if !ok {
			p.log.Debug().Str("tool", name).Msg("ignoring unknown tool")
			continue
		}
		params := map[string]string{}
		for _, arg := range toolArgPattern.FindAllStringSubmatch(response[m[4]:m[5]], -1) {
			if !spec.HasParameter(arg[1]) {
				continue
			}
			value := strings.TrimSpace(arg[4])
			switch {
			case arg[2] != "":
				value = arg[2]
			case arg[3] != "":
				value = arg[3]
			}
			params[arg[1]] = value
		}
		key := callKey(name, params)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		calls = append(calls, tools.ToolCall{Tool: name, Parameters: params})
	}
	return calls, spans
}

func callKey(name string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("\x00" + k + "=" + params[k])
	}
	return b.String()
}

func cleanProse(response string, spans []span) string {
	if len(spans) == 0 {
		return strings.TrimSpace(response)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.start < pos {
			if sp.end > pos {
				pos = sp.end
			}
			continue
		}
		b.WriteString(response[pos:sp.start])
		pos = sp.end
	}
	b.WriteString(response[pos:])

	prose := fenceLine.ReplaceAllString(b.String(), "")
	prose = blankRuns.ReplaceAllString(prose, "\n\n")
	return strings.TrimSpace(prose)
}
