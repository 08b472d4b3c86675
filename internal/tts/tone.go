package tts

import (
	"context"
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/totoro/internal/audio"
)

// ToneModel stands in for the neural model: it writes a quiet sine tone
// whose length follows the text. Used with TTS_MOCK and in tests.
type ToneModel struct {
	SampleRate int
	// PerRune is the audio length per character of text.
	PerRune time.Duration
	// Latency simulates synthesis time.
	Latency time.Duration
}

func NewToneLoader(sampleRate int) Loader {
	return func(context.Context) (Model, error) {
		return &ToneModel{SampleRate: sampleRate, PerRune: 55 * time.Millisecond}, nil
	}
}

func (m *ToneModel) Synthesize(ctx context.Context, req SynthesisRequest) error {
	if req.OutputPath == "" {
		return errors.New("no output path")
	}
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	rate := m.SampleRate
	if req.SampleRate > 0 {
		rate = req.SampleRate
	}
	if rate <= 0 {
		rate = 22050
	}
	length := time.Duration(utf8.RuneCountInString(req.Text)) * m.PerRune
	if length < 250*time.Millisecond {
		length = 250 * time.Millisecond
	}
	n := int(length.Seconds() * float64(rate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return audio.WriteWAVFile(req.OutputPath, samples, rate)
}

func (m *ToneModel) Close() error { return nil }
