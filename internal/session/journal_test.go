package session

import (
	"errors"
	"testing"
)

func TestJournalBeginEnd(t *testing.T) {
	j := NewJournal(10)
	s := j.Begin(TriggerWake)
	if s.ID == "" || s.Status != StatusActive {
		t.Fatalf("Begin() = %+v", s)
	}
	if err := j.SetUtterance(s.ID, "lights on"); err != nil {
		t.Fatalf("SetUtterance() error = %v", err)
	}
	if j.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", j.ActiveCount())
	}

	ended, err := j.End(s.ID, OutcomeCompleted, "smart_home", true)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.Utterance != "lights on" || ended.EndedAt.IsZero() {
		t.Fatalf("ended = %+v", ended)
	}
	if _, err := j.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestJournalGetReturnsCopy(t *testing.T) {
	j := NewJournal(10)
	s := j.Begin(TriggerText)
	got, _ := j.Get(s.ID)
	got.Utterance = "mutated"
	again, _ := j.Get(s.ID)
	if again.Utterance != "" {
		t.Fatalf("journal entry mutated through copy")
	}
}

func TestJournalRetention(t *testing.T) {
	j := NewJournal(2)
	var ids []string
	for i := 0; i < 3; i++ {
		s := j.Begin(TriggerText)
		_, _ = j.End(s.ID, OutcomeCompleted, "general", true)
		ids = append(ids, s.ID)
	}
	j.Begin(TriggerText)
	recent := j.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(recent))
	}
	if recent[1].ID != ids[2] {
		t.Fatalf("Recent()[1] = %s, want newest ended %s", recent[1].ID, ids[2])
	}
	if _, err := j.Get(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest session still retained")
	}
}
