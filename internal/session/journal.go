package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is the record of one wake or text session.
type Session struct {
	ID         string        `json:"session_id"`
	Trigger    Trigger       `json:"trigger"`
	Status     Status        `json:"status"`
	Utterance  string        `json:"utterance,omitempty"`
	Outcome    OutcomeStatus `json:"outcome,omitempty"`
	ResultKind string        `json:"result_kind,omitempty"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitzero"`
}

// Journal keeps the most recent sessions for inspection. Reads return
// copies.
type Journal struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	retain   int
}

func NewJournal(retain int) *Journal {
	if retain <= 0 {
		retain = 100
	}
	return &Journal{sessions: make(map[string]*Session), retain: retain}
}

// Begin records a new active session.
func (j *Journal) Begin(trigger Trigger) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    StatusActive,
		StartedAt: time.Now().UTC(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions[s.ID] = s
	j.order = append(j.order, s.ID)
	j.evictLocked()
	return clone(s)
}

func (j *Journal) SetUtterance(id, utterance string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Utterance = utterance
	return nil
}

// End closes a session with its outcome.
func (j *Journal) End(id string, outcome OutcomeStatus, kind string, success bool) (*Session, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.Outcome = outcome
	s.ResultKind = kind
	s.Success = success
	s.EndedAt = time.Now().UTC()
	return clone(s), nil
}

func (j *Journal) Get(id string) (*Session, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s, ok := j.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Recent returns up to limit sessions, newest first.
func (j *Journal) Recent(limit int) []*Session {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if limit <= 0 || limit > len(j.order) {
		limit = len(j.order)
	}
	out := make([]*Session, 0, limit)
	for i := len(j.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clone(j.sessions[j.order[i]]))
	}
	return out
}

func (j *Journal) ActiveCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	count := 0
	for _, s := range j.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// evictLocked drops the oldest ended sessions beyond the retention limit.
func (j *Journal) evictLocked() {
	for len(j.order) > j.retain {
		oldest := j.order[0]
		if s := j.sessions[oldest]; s != nil && s.Status == StatusActive {
			return
		}
		delete(j.sessions, oldest)
		j.order = j.order[1:]
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
