// Package protocol defines the JSON envelopes of the state websocket and
// the command bridge.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientCommand  MessageType = "client_command"
	TypeClientWake     MessageType = "client_wake"
	TypeStateSnapshot  MessageType = "state_snapshot"
	TypeStateChange    MessageType = "state_change"
	TypeSessionOutcome MessageType = "session_outcome"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientCommand submits typed text as if it had been spoken.
type ClientCommand struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ClientWake starts a wake session.
type ClientWake struct {
	Type      MessageType `json:"type"`
	TimeoutMS int64       `json:"timeout_ms,omitempty"`
}

type StateSnapshot struct {
	Type          MessageType `json:"type"`
	State         string      `json:"state"`
	SessionActive bool        `json:"session_active"`
	TSMs          int64       `json:"ts_ms"`
}

type StateChange struct {
	Type MessageType `json:"type"`
	From string      `json:"from"`
	To   string      `json:"to"`
	TSMs int64       `json:"ts_ms"`
}

type SessionOutcome struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	Status       string      `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	Utterance    string      `json:"utterance,omitempty"`
	ResponseText string      `json:"response_text,omitempty"`
	Kind         string      `json:"kind,omitempty"`
	Tasks        int         `json:"tasks"`
	ToolCalls    int         `json:"tool_calls"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// CommandRequest is the body of POST /v1/commands.
type CommandRequest struct {
	Text string `json:"text"`
}

// WakeRequest is the body of POST /v1/wake.
type WakeRequest struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// ParseClientMessage decodes and validates an inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientCommand:
		var msg ClientCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_command: empty text")
		}
		return msg, nil
	case TypeClientWake:
		var msg ClientWake
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.TimeoutMS < 0 {
			return nil, errors.New("invalid client_wake: negative timeout")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
