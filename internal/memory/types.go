package memory

import (
	"context"
	"time"
)

// ArchivedTurn is a conversation turn mirrored to the archive store.
type ArchivedTurn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Kind        string    `json:"kind,omitempty"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Archive keeps a longer record of conversation turns than the prompt
// history. Prompts never read from it.
type Archive interface {
	SaveTurn(ctx context.Context, turn ArchivedTurn) error
	Recent(ctx context.Context, limit int) ([]ArchivedTurn, error)
	Close() error
}
