package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrSinkFull is returned when a chunk does not fit in the device buffer in
// time.
var ErrSinkFull = errors.New("audio sink buffer full")

// MalgoSink plays through the default output device. The device callback
// drains a ring buffer and pads underruns with silence.
type MalgoSink struct {
	sampleRate int
	ring       *RingBuffer

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	closed   bool
	underrun int
}

// NewMalgoSink opens and starts a mono S16 playback device. bufferSeconds
// sizes the ring buffer.
func NewMalgoSink(sampleRate int, bufferSeconds float64) (*MalgoSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if bufferSeconds <= 0 {
		bufferSeconds = 2
	}
	s := &MalgoSink{
		sampleRate: sampleRate,
		ring:       NewRingBuffer(int(float64(sampleRate)*bufferSeconds) * 2),
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := s.ring.Read(out)
			if n < len(out) {
				clear(out[n:])
				if n > 0 {
					s.mu.Lock()
					s.underrun++
					s.mu.Unlock()
				}
			}
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	s.ctx = mctx
	s.device = device
	return s, nil
}

// Play queues samples. It shares PlayRaw's ring, so a raw retry after a
// failed Play only helps when the failure was a full ring.
func (s *MalgoSink) Play(samples []int16) error {
	return s.PlayRaw(SamplesToBytes(samples))
}

// PlayRaw queues bytes, waiting up to the chunk's own duration for space.
func (s *MalgoSink) PlayRaw(pcm []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}

	wait := time.Duration(float64(len(pcm)/2)/float64(s.sampleRate)*float64(time.Second)) + 100*time.Millisecond
	deadline := time.Now().Add(wait)
	for len(pcm) > 0 {
		n := s.ring.Write(pcm)
		pcm = pcm[n:]
		if len(pcm) == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d bytes dropped", ErrSinkFull, len(pcm))
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (s *MalgoSink) Busy() bool {
	return s.ring.Buffered() > 0
}

// Underruns counts callbacks that ran out of audio mid-period.
func (s *MalgoSink) Underruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underrun
}

func (s *MalgoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.device != nil {
		if stopErr := s.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playback device: %w", stopErr)
		}
		s.device.Uninit()
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
	}
	s.ring.Reset()
	return err
}
