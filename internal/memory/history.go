package memory

import (
	"sync"
	"unicode/utf8"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history. Kind is set on assistant
// turns to the result kind of the exchange.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// History is an append-only ring holding the most recent turns.
// Oldest turns are evicted first.
type History struct {
	mu    sync.Mutex
	max   int
	turns []Turn
}

// NewHistory returns a history bounded to limit turns (at least 1).
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{max: limit, turns: make([]Turn, 0, limit)}
}

// Append adds turns in order, evicting from the front to stay within bounds.
// Appending a user/assistant pair in one call keeps the pair adjacent for
// concurrent writers.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.max; over > 0 {
		kept := make([]Turn, h.max)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Max returns the capacity.
func (h *History) Max() int { return h.max }

// Snapshot returns a copy of all turns, oldest first.
func (h *History) Snapshot() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Tail returns up to n most recent turns with content cut at truncate runes.
// truncate <= 0 disables truncation.
func (h *History) Tail(n, truncate int) []Turn {
	if n <= 0 {
		return nil
	}
	h.mu.Lock()
	start := len(h.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	h.mu.Unlock()

	if truncate > 0 {
		for i := range out {
			out[i].Content = truncateRunes(out[i].Content, truncate)
		}
	}
	return out
}

// Reset drops every turn.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
