package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator gives deterministic replies when no model endpoint is
// configured. Smart-home requests get prose without a sentinel block, so the
// keyword fallback decides the tasks.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	input := strings.TrimSpace(req.Input)
	if req.Validate != nil {
		text := "On it."
		return Response{Text: text, Attempts: 1, Valid: req.Validate(text)}, nil
	}
	if input == "" {
		return Response{Text: "I am listening.", Attempts: 1, Valid: true}, nil
	}
	return Response{Text: fmt.Sprintf("I heard you: %s", input), Attempts: 1, Valid: true}, nil
}
