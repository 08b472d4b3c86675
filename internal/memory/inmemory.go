package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryArchiveLimit = 1000

// InMemoryArchive keeps the most recent archived turns in process.
type InMemoryArchive struct {
	mu    sync.RWMutex
	limit int
	turns []ArchivedTurn
}

func NewInMemoryArchive(limit int) *InMemoryArchive {
	if limit <= 0 {
		limit = defaultInMemoryArchiveLimit
	}
	return &InMemoryArchive{limit: limit}
}

func (a *InMemoryArchive) SaveTurn(_ context.Context, turn ArchivedTurn) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	a.turns = append(a.turns, turn)
	if over := len(a.turns) - a.limit; over > 0 {
		a.turns = append([]ArchivedTurn(nil), a.turns[over:]...)
	}
	return nil
}

func (a *InMemoryArchive) Recent(_ context.Context, limit int) ([]ArchivedTurn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.turns) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(a.turns) {
		limit = len(a.turns)
	}
	out := make([]ArchivedTurn, limit)
	copy(out, a.turns[len(a.turns)-limit:])
	return out, nil
}

func (a *InMemoryArchive) Close() error { return nil }
