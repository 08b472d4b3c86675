package tts

import (
	"context"
)

// SynthesisRequest asks a model to render text into a WAV file.
type SynthesisRequest struct {
	Text             string
	SpeakerReference string
	Language         string
	SampleRate       int
	OutputPath       string
}

// Model renders a complete waveform. Implementations must be safe for
// sequential use; the engine never calls Synthesize concurrently.
type Model interface {
	Synthesize(ctx context.Context, req SynthesisRequest) error
	Close() error
}

// Loader creates the model on first use.
type Loader func(ctx context.Context) (Model, error)
