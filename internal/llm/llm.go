package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// StatusError is a non-2xx reply from the model endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm http status %d: %s", e.Code, e.Body)
}

// Request is one logical generation. The client may issue several attempts.
type Request struct {
	// System is the full system prompt.
	System string
	// Input is the user utterance.
	Input string
	// Dialect is used only for logging and metrics.
	Dialect string

	Temperature float64

	// Validate, when set, decides whether a reply is acceptable. Rejected
	// replies are retried with Reinforcement appended to the system prompt.
	Validate      func(text string) bool
	Reinforcement string
}

// Response is the accepted (or last) reply.
type Response struct {
	Text     string
	Attempts int
	// Valid is false when Validate rejected every attempt; Text then holds
	// the last non-empty reply.
	Valid   bool
	Elapsed time.Duration
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Observer receives one sample per attempt.
type Observer interface {
	ObserveLLMAttempt(dialect, outcome string, elapsed time.Duration)
}

// ComposePrompt joins the system prompt and the user turn into the single
// completion prompt sent to the model.
func ComposePrompt(system, input string) string {
	return system + "\n\nUser: " + input + "\nAssistant:"
}
