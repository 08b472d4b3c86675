package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrSinkClosed is returned by Play after Close.
var ErrSinkClosed = errors.New("audio sink closed")

// Sink plays mono PCM16 chunks at a fixed sample rate. Play queues a chunk
// and returns; Busy reports whether queued audio is still sounding.
type Sink interface {
	Play(samples []int16) error
	Busy() bool
	Close() error
}

// RawPlayer is implemented by sinks that also accept little-endian bytes.
// It is the fallback path when Play fails.
type RawPlayer interface {
	PlayRaw(pcm []byte) error
}

// DiscardSink drops audio but stays busy for the chunk's real duration when
// Realtime is set. Used headless and in tests.
type DiscardSink struct {
	SampleRate int
	Realtime   bool

	mu        sync.Mutex
	busyUntil time.Time
	played    int
	closed    bool
}

func NewDiscardSink(sampleRate int, realtime bool) *DiscardSink {
	return &DiscardSink{SampleRate: sampleRate, Realtime: realtime}
}

func (s *DiscardSink) Play(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.played += len(samples)
	if s.Realtime && s.SampleRate > 0 {
		d := time.Duration(float64(len(samples)) / float64(s.SampleRate) * float64(time.Second))
		start := time.Now()
		if s.busyUntil.After(start) {
			start = s.busyUntil
		}
		s.busyUntil = start.Add(d)
	}
	return nil
}

func (s *DiscardSink) PlayRaw(pcm []byte) error {
	return s.Play(BytesToSamples(pcm))
}

func (s *DiscardSink) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.busyUntil)
}

// Played returns the number of samples accepted so far.
func (s *DiscardSink) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func (s *DiscardSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
