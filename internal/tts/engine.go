// Package tts synthesizes a full waveform with a voice-cloning model and
// streams it to the audio sink in fixed-size chunks.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/audio"
)

var (
	ErrModelLoad = errors.New("tts model load failed")
	ErrSynthesis = errors.New("tts synthesis failed")
	ErrPlayback  = errors.New("tts playback failed")
)

// speakMu serializes Speak across every engine in the process.
var speakMu sync.Mutex

// Config tunes chunking and playback.
type Config struct {
	SampleRate   int
	ChunkSize    int
	BufferChunks int
	// PacingFactor scales the producer delay between chunks relative to the
	// chunk's audio duration.
	PacingFactor     float64
	SpeakerReference string
	Language         string
	// TempDir holds the intermediate waveform; empty means os.TempDir.
	TempDir string
	// QueuePoll bounds how long the consumer waits for the next chunk
	// before rechecking for completion or cancellation.
	QueuePoll time.Duration
	// BusyPoll is the sink busy-poll interval.
	BusyPoll time.Duration
}

// Observer receives engine measurements.
type Observer interface {
	ObserveSynthesis(elapsed time.Duration)
	ObservePlayback(perceived time.Duration, chunks int)
	ObserveTTSFailure(stage string)
}

// StreamingMetrics describe one Speak call. Times are absolute; durations
// are measured from the call start.
type StreamingMetrics struct {
	StartedAt         time.Time     `json:"started_at"`
	FirstChunkAt      time.Time     `json:"first_chunk_at"`
	PlaybackStartedAt time.Time     `json:"playback_started_at"`
	SynthesisTime     time.Duration `json:"synthesis_time"`
	PerceivedLatency  time.Duration `json:"perceived_latency"`
	TotalTime         time.Duration `json:"total_time"`
	ChunksGenerated   int           `json:"chunks_generated"`
	ChunksPlayed      int           `json:"chunks_played"`
	PlaybackStarted   bool          `json:"playback_started"`
}

// Result of one Speak call. Metrics are filled on every path.
type Result struct {
	Success bool
	Err     error
	Metrics StreamingMetrics
}

// Engine owns the lazily loaded model and drives playback.
type Engine struct {
	cfg      Config
	loader   Loader
	sink     audio.Sink
	observer Observer
	log      zerolog.Logger

	model   atomic.Pointer[modelHolder]
	modelMu sync.Mutex
}

type modelHolder struct{ m Model }

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func NewEngine(cfg Config, loader Loader, sink audio.Sink, opts ...Option) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 22050
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.BufferChunks < 0 {
		cfg.BufferChunks = 0
	}
	if cfg.PacingFactor < 0 {
		cfg.PacingFactor = 0
	}
	if cfg.QueuePoll <= 0 {
		cfg.QueuePoll = 500 * time.Millisecond
	}
	if cfg.BusyPoll <= 0 {
		cfg.BusyPoll = 10 * time.Millisecond
	}
	e := &Engine{cfg: cfg, loader: loader, sink: sink, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preload loads the model ahead of the first Speak.
func (e *Engine) Preload(ctx context.Context) error {
	_, err := e.ensureModel(ctx)
	return err
}

// Loaded reports whether the model is cached.
func (e *Engine) Loaded() bool {
	return e.model.Load() != nil
}

func (e *Engine) ensureModel(ctx context.Context) (Model, error) {
	if h := e.model.Load(); h != nil {
		return h.m, nil
	}
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	if h := e.model.Load(); h != nil {
		return h.m, nil
	}
	if e.loader == nil {
		return nil, fmt.Errorf("%w: no loader configured", ErrModelLoad)
	}
	m, err := e.loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	e.model.Store(&modelHolder{m: m})
	return m, nil
}

// Close releases the model. The sink is owned by the caller.
func (e *Engine) Close() error {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	h := e.model.Swap(nil)
	if h == nil {
		return nil
	}
	return h.m.Close()
}

// Speak synthesizes text in the voice of speakerRef (the configured
// reference when empty) and plays it. It returns after the last chunk has
// finished playing.
func (e *Engine) Speak(ctx context.Context, text, speakerRef string) (res Result) {
	speakMu.Lock()
	defer speakMu.Unlock()

	start := time.Now()
	res.Metrics.StartedAt = start
	defer func() { res.Metrics.TotalTime = time.Since(start) }()

	text = SpeakableText(text)
	if text == "" {
		res.Success = true
		return res
	}
	if speakerRef == "" {
		speakerRef = e.cfg.SpeakerReference
	}

	model, err := e.ensureModel(ctx)
	if err != nil {
		return e.fail(res, "load", err)
	}

	tmp, err := os.CreateTemp(e.cfg.TempDir, "totoro-tts-*.wav")
	if err != nil {
		return e.fail(res, "synthesis", fmt.Errorf("%w: create temp file: %w", ErrSynthesis, err))
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp waveform")
		}
	}()

	synthStart := time.Now()
	err = model.Synthesize(ctx, SynthesisRequest{
		Text:             text,
		SpeakerReference: speakerRef,
		Language:         e.cfg.Language,
		SampleRate:       e.cfg.SampleRate,
		OutputPath:       path,
	})
	res.Metrics.SynthesisTime = time.Since(synthStart)
	if err != nil {
		return e.fail(res, "synthesis", fmt.Errorf("%w: %w", ErrSynthesis, err))
	}
	if e.observer != nil {
		e.observer.ObserveSynthesis(res.Metrics.SynthesisTime)
	}

	pcm, err := audio.ReadWAVFile(path)
	if err != nil {
		return e.fail(res, "synthesis", fmt.Errorf("%w: read waveform: %w", ErrSynthesis, err))
	}
	if pcm.SampleRate != e.cfg.SampleRate {
		return e.fail(res, "synthesis", fmt.Errorf("%w: waveform is %d Hz, sink plays %d Hz", ErrSynthesis, pcm.SampleRate, e.cfg.SampleRate))
	}
	chunks := Chunk(pcm.Mono(), e.cfg.ChunkSize)

	playErr := e.stream(ctx, chunks, &res.Metrics)
	if res.Metrics.ChunksGenerated > 0 {
		res.Metrics.PerceivedLatency = res.Metrics.FirstChunkAt.Sub(start)
		if e.observer != nil {
			e.observer.ObservePlayback(res.Metrics.PerceivedLatency, res.Metrics.ChunksGenerated)
		}
	}
	if playErr != nil {
		return e.fail(res, "playback", playErr)
	}

	res.Success = true
	e.log.Debug().
		Int("chunks", res.Metrics.ChunksGenerated).
		Dur("synthesis", res.Metrics.SynthesisTime).
		Dur("perceived", res.Metrics.PerceivedLatency).
		Msg("speech played")
	return res
}

// stream runs the producer on the calling goroutine and one consumer
// goroutine. The queue has room for every chunk so the producer never
// blocks; closing it signals that generation is complete.
func (e *Engine) stream(ctx context.Context, chunks [][]int16, m *StreamingMetrics) error {
	if len(chunks) == 0 {
		return nil
	}
	queue := make(chan []int16, len(chunks))
	added := make(chan struct{}, 1)
	produced := make(chan struct{})

	var (
		wg       sync.WaitGroup
		playErr  error
		started  time.Time
		played   int
		chunkDur = time.Duration(float64(e.cfg.ChunkSize) / float64(e.cfg.SampleRate) * float64(time.Second))
		pacing   = time.Duration(float64(chunkDur) * e.cfg.PacingFactor)
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		started, played, playErr = e.consume(ctx, queue, added, produced)
	}()

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		queue <- chunk
		if i == 0 {
			m.FirstChunkAt = time.Now()
		}
		m.ChunksGenerated++
		select {
		case added <- struct{}{}:
		default:
		}
		if i < len(chunks)-1 && pacing > 0 {
			if err := sleep(ctx, pacing); err != nil {
				break
			}
		}
	}
	close(queue)
	close(produced)
	wg.Wait()

	m.PlaybackStarted = !started.IsZero()
	m.PlaybackStartedAt = started
	m.ChunksPlayed = played
	if playErr == nil && ctx.Err() != nil {
		playErr = ctx.Err()
	}
	return playErr
}

// consume waits until BufferChunks chunks are queued (or generation is
// complete), then plays chunks serially until the queue is drained.
func (e *Engine) consume(ctx context.Context, queue chan []int16, added, produced <-chan struct{}) (time.Time, int, error) {
	var (
		started time.Time
		played  int
	)

	for len(queue) < e.cfg.BufferChunks {
		select {
		case <-produced:
		case <-added:
			continue
		case <-ctx.Done():
			return started, played, ctx.Err()
		case <-time.After(e.cfg.QueuePoll):
			continue
		}
		break
	}

	for {
		var (
			chunk []int16
			ok    bool
		)
		select {
		case chunk, ok = <-queue:
		case <-ctx.Done():
			return started, played, ctx.Err()
		case <-time.After(e.cfg.QueuePoll):
			continue
		}
		if !ok {
			return started, played, nil
		}
		if started.IsZero() {
			started = time.Now()
		}
		if err := e.playChunk(chunk); err != nil {
			return started, played, err
		}
		if err := e.waitIdle(ctx); err != nil {
			return started, played, err
		}
		played++
	}
}

func (e *Engine) playChunk(chunk []int16) error {
	err := e.sink.Play(chunk)
	if err == nil {
		return nil
	}
	raw, ok := e.sink.(audio.RawPlayer)
	if !ok || errors.Is(err, audio.ErrSinkClosed) {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	e.log.Warn().Err(err).Msg("sink rejected chunk, retrying with raw buffer")
	if rawErr := raw.PlayRaw(audio.SamplesToBytes(chunk)); rawErr != nil {
		return fmt.Errorf("%w: %w (raw fallback: %v)", ErrPlayback, err, rawErr)
	}
	return nil
}

func (e *Engine) waitIdle(ctx context.Context) error {
	for e.sink.Busy() {
		if err := sleep(ctx, e.cfg.BusyPoll); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fail(res Result, stage string, err error) Result {
	res.Success = false
	res.Err = err
	e.log.Error().Err(err).Str("stage", stage).Msg("speak failed")
	if e.observer != nil {
		e.observer.ObserveTTSFailure(stage)
	}
	return res
}

// Chunk splits samples into blocks of size; the last block may be short.
func Chunk(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	out := make([][]int16, 0, (len(samples)+size-1)/size)
	for i := 0; i < len(samples); i += size {
		out = append(out, samples[i:min(i+size, len(samples))])
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
