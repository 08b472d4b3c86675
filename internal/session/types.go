package session

import (
	"errors"
	"fmt"
	"time"
)

// VisualState is what the assistant shows to the user.
type VisualState string

const (
	StateIdle     VisualState = "idle"
	StateAwake    VisualState = "awake"
	StateThinking VisualState = "thinking"
	StateSpeaking VisualState = "speaking"
	StateLoading  VisualState = "loading"
	StateError    VisualState = "error"
)

// ParseVisualState accepts one of the six state names.
func ParseVisualState(s string) (VisualState, error) {
	switch v := VisualState(s); v {
	case StateIdle, StateAwake, StateThinking, StateSpeaking, StateLoading, StateError:
		return v, nil
	default:
		return "", fmt.Errorf("unknown visual state %q", s)
	}
}

// StateChange is delivered to subscribers.
type StateChange struct {
	From VisualState `json:"from"`
	To   VisualState `json:"to"`
	At   time.Time   `json:"at"`
}

var (
	ErrSessionActive = errors.New("session already active")
	ErrNotFound      = errors.New("session not found")
)

// Reasons reported in Outcome.Reason.
const (
	ReasonSessionActive = "Session already active"
	ReasonNoWake        = "no wake word detected"
	ReasonNoCommand     = "no command heard"
)

// DidNotCatch is spoken when the wake phrase is heard but no command follows.
const DidNotCatch = "I didn't catch that. Could you try again?"

// OutcomeStatus summarizes a wake or text session.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeBusy      OutcomeStatus = "busy"
	OutcomeNoWake    OutcomeStatus = "no_wake"
	OutcomeNoCommand OutcomeStatus = "no_command"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Trigger is how a session started.
type Trigger string

const (
	TriggerWake Trigger = "wake"
	TriggerText Trigger = "text"
)
