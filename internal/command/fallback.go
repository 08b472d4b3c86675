package command

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ent0n29/totoro/internal/tools"
)

// DefaultRoom is used when the utterance names no known room.
const DefaultRoom = "living_room"

// Fallback brightness levels, in percent of full scale.
const (
	dimBrightnessPercent  = 25
	fullBrightnessPercent = 100
)

var roomVocabulary = []string{
	"living room", "bedroom", "kitchen", "bathroom", "office", "dining room", "basement", "garage",
}

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})\s*(?:%|percent)`)
	numberPattern  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

type fallbackRule struct {
	verbs []string
	nouns []string
	build func(text string) (Task, bool)
}

// rules are tried in order; the first match wins.
var fallbackRules = []fallbackRule{
	{
		verbs: []string{"turn off", "switch off", "shut off"},
		nouns: []string{"light", "lamp"},
		build: func(text string) (Task, bool) {
			room := ExtractRoom(text)
			return Task{Action: "turn_off_lights", Target: room, Room: room, Parameters: map[string]any{"room": room}}, true
		},
	},
	{
		verbs: []string{"turn on", "switch on", "dim", "brighten"},
		nouns: []string{"light", "lamp"},
		build: func(text string) (Task, bool) {
			room := ExtractRoom(text)
			params := map[string]any{"room": room}
			if level, ok := brightnessFor(text); ok {
				params["brightness"] = level
			}
			return Task{Action: "turn_on_lights", Target: room, Room: room, Parameters: params}, true
		},
	},
	{
		verbs: []string{"pause", "stop"},
		nouns: []string{"music", "song", "playback"},
		build: func(string) (Task, bool) {
			return Task{Action: "pause_music", Target: "default", Parameters: map[string]any{}}, true
		},
	},
	{
		verbs: []string{"resume", "continue", "unpause"},
		nouns: []string{"music", "song", "playback"},
		build: func(string) (Task, bool) {
			return Task{Action: "resume_music", Target: "default", Parameters: map[string]any{}}, true
		},
	},
	{
		verbs: []string{"play"},
		nouns: []string{"music", "song", "playlist", "spotify"},
		build: func(text string) (Task, bool) {
			return Task{Action: "play_music", Target: "default", Parameters: map[string]any{"query": musicQuery(text), "type": "track"}}, true
		},
	},
	{
		verbs: []string{"volume"},
		nouns: []string{"volume"},
		build: func(text string) (Task, bool) {
			n, ok := firstNumber(text)
			if !ok {
				return Task{}, false
			}
			v := int(math.Round(math.Max(0, math.Min(100, n))))
			return Task{Action: "set_volume", Target: "default", Parameters: map[string]any{"volume": v}}, true
		},
	},
	{
		verbs: []string{"set", "change", "make", "turn"},
		nouns: []string{"temperature", "thermostat", "degrees"},
		build: func(text string) (Task, bool) {
			n, ok := firstNumber(text)
			if !ok {
				return Task{}, false
			}
			room := ExtractRoom(text)
			params := map[string]any{"room": room}
			if n == math.Trunc(n) {
				params["temperature"] = int(n)
			} else {
				params["temperature"] = n
			}
			return Task{Action: "set_temperature", Target: room, Room: room, Parameters: params}, true
		},
	},
}

// FallbackTask maps verb and noun keywords in the utterance to one task.
// The task is dropped if its action is not registered.
func FallbackTask(utterance string, registry *tools.Registry) (Task, bool) {
	text := strings.ToLower(utterance)
	for _, rule := range fallbackRules {
		if !containsAny(text, rule.verbs) || !containsAny(text, rule.nouns) {
			continue
		}
		task, ok := rule.build(text)
		if !ok {
			continue
		}
		if _, registered := registry.LookupAction(task.Action); !registered {
			return Task{}, false
		}
		task.Priority = 1
		return task, true
	}
	return Task{}, false
}

// ExtractRoom returns the first room named in text, in underscore form, or
// DefaultRoom.
func ExtractRoom(text string) string {
	lower := strings.ToLower(text)
	best, bestIdx := "", -1
	for _, room := range roomVocabulary {
		idx := strings.Index(lower, room)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx {
			best, bestIdx = room, idx
		}
	}
	if best == "" {
		return DefaultRoom
	}
	return NormalizeRoom(best)
}

// ScaleBrightness maps a percentage onto the 0-255 device scale.
func ScaleBrightness(percent float64) int {
	percent = math.Max(0, math.Min(100, percent))
	return int(math.Round(percent * 255 / 100))
}

func brightnessFor(text string) (int, bool) {
	if m := percentPattern.FindStringSubmatch(text); m != nil {
		p, err := strconv.Atoi(m[1])
		if err == nil {
			return ScaleBrightness(float64(p)), true
		}
	}
	switch {
	case strings.Contains(text, "dim"):
		return ScaleBrightness(dimBrightnessPercent), true
	case strings.Contains(text, "brighten"), strings.Contains(text, "full"), strings.Contains(text, "max"):
		return ScaleBrightness(fullBrightnessPercent), true
	}
	return 0, false
}

func firstNumber(text string) (float64, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var musicFillers = map[string]bool{"some": true, "the": true, "me": true, "a": true, "my": true, "us": true}

func musicQuery(text string) string {
	idx := strings.Index(text, "play")
	if idx < 0 {
		return "music"
	}
	rest := text[idx+len("play"):]
	for _, stop := range []string{"music", "song", "playlist", "on spotify", " in the ", " on the "} {
		if cut := strings.Index(rest, stop); cut >= 0 {
			rest = rest[:cut]
		}
	}
	var words []string
	for _, w := range strings.Fields(rest) {
		w = strings.Trim(w, ".,!?")
		if w == "" || musicFillers[w] {
			continue
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return "music"
	}
	return strings.Join(words, " ")
}
