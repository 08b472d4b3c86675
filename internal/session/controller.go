// Package session coordinates wake sessions and owns the visual state.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/command"
	"github.com/ent0n29/totoro/internal/observability"
	"github.com/ent0n29/totoro/internal/processor"
	"github.com/ent0n29/totoro/internal/tts"
)

// Recognizer supplies wake signals and utterances. Both calls block until
// the timeout or ctx ends.
type Recognizer interface {
	WaitForWakePhrase(ctx context.Context, timeout time.Duration) (bool, error)
	NextUtterance(ctx context.Context, timeout time.Duration) (string, bool)
}

// Processor turns an utterance into a result.
type Processor interface {
	ProcessCommand(ctx context.Context, utterance string, tc processor.TurnContext) command.UnifiedResult
}

// Speaker plays a reply.
type Speaker interface {
	Speak(ctx context.Context, text, speakerRef string) tts.Result
}

// TaskSink receives smart-home tasks. The controller does not wait for it.
type TaskSink interface {
	ApplyTasks(ctx context.Context, tasks []command.Task) error
}

// Config tunes session timing.
type Config struct {
	// CommandTimeout bounds the wait for an utterance after the wake phrase.
	CommandTimeout time.Duration
	// AwakeHold keeps the awake state visible before thinking starts.
	AwakeHold     time.Duration
	ErrorCooldown time.Duration
	CurrentRoom   string
	SpeakerRef    string
	TaskTimeout   time.Duration
}

// Outcome reports how a session ended. Busy and no-wake outcomes carry a
// Reason and no side effects.
type Outcome struct {
	Status    OutcomeStatus          `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Utterance string                 `json:"utterance,omitempty"`
	Result    *command.UnifiedResult `json:"result,omitempty"`
	Speech    *tts.StreamingMetrics  `json:"speech,omitempty"`
	Err       error                  `json:"-"`
}

// Controller owns the visual state and the single-session flag.
type Controller struct {
	cfg     Config
	rec     Recognizer
	proc    Processor
	speaker Speaker
	tasks   TaskSink
	journal *Journal
	metrics *observability.Metrics
	log     zerolog.Logger

	notifyMu sync.Mutex
	stateMu  sync.RWMutex
	state    VisualState

	subsMu  sync.Mutex
	subs    map[int]func(StateChange)
	nextSub int

	sessionMu sync.Mutex
	active    bool
}

type Option func(*Controller)

func WithRecognizer(r Recognizer) Option { return func(c *Controller) { c.rec = r } }
func WithSpeaker(s Speaker) Option       { return func(c *Controller) { c.speaker = s } }
func WithTaskSink(t TaskSink) Option     { return func(c *Controller) { c.tasks = t } }
func WithJournal(j *Journal) Option      { return func(c *Controller) { c.journal = j } }
func WithLogger(l zerolog.Logger) Option { return func(c *Controller) { c.log = l } }

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func NewController(cfg Config, proc Processor, opts ...Option) *Controller {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.ErrorCooldown < 0 {
		cfg.ErrorCooldown = 0
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	c := &Controller{
		cfg:   cfg,
		proc:  proc,
		state: StateIdle,
		subs:  make(map[int]func(StateChange)),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.journal == nil {
		c.journal = NewJournal(0)
	}
	return c
}

// State returns the current visual state.
func (c *Controller) State() VisualState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Journal exposes the session records.
func (c *Controller) Journal() *Journal { return c.journal }

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.active
}

// SetState changes the visual state and notifies subscribers synchronously
// when it differs. Subscribers must not call SetState.
func (c *Controller) SetState(next VisualState) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.stateMu.Lock()
	prev := c.state
	if prev == next {
		c.stateMu.Unlock()
		return
	}
	c.state = next
	c.stateMu.Unlock()

	change := StateChange{From: prev, To: next, At: time.Now().UTC()}
	c.metrics.ObserveStateChange(string(prev), string(next))
	c.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("visual state changed")

	c.subsMu.Lock()
	subs := make([]func(StateChange), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range subs {
		c.notify(fn, change)
	}
}

func (c *Controller) notify(fn func(StateChange), change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Interface("panic", r).Msg("state subscriber panicked")
		}
	}()
	fn(change)
}

// Subscribe registers fn for state changes and returns its deregistration.
func (c *Controller) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

// Warmup shows the loading state while load runs.
func (c *Controller) Warmup(ctx context.Context, load func(context.Context) error) error {
	c.SetState(StateLoading)
	if err := load(ctx); err != nil {
		c.log.Error().Err(err).Msg("warmup failed")
		c.recoverFromError(ctx)
		return err
	}
	c.SetState(StateIdle)
	return nil
}

func (c *Controller) tryAcquire() bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	return true
}

func (c *Controller) release() {
	c.sessionMu.Lock()
	c.active = false
	c.sessionMu.Unlock()
}

func (c *Controller) busy() Outcome {
	c.metrics.ObserveSessionEvent("contention")
	return Outcome{Status: OutcomeBusy, Reason: ReasonSessionActive, Err: ErrSessionActive}
}

// StartWakeSession waits up to timeout for the wake phrase, then captures
// and handles one command. A concurrent call returns a busy outcome
// immediately.
func (c *Controller) StartWakeSession(ctx context.Context, timeout time.Duration) Outcome {
	if !c.tryAcquire() {
		return c.busy()
	}
	defer c.release()

	c.SetState(StateIdle)
	if c.rec == nil {
		return Outcome{Status: OutcomeNoWake, Reason: ReasonNoWake}
	}
	heard, err := c.rec.WaitForWakePhrase(ctx, timeout)
	if err != nil || !heard {
		if err != nil {
			c.log.Debug().Err(err).Msg("wake wait ended")
		}
		return Outcome{Status: OutcomeNoWake, Reason: ReasonNoWake, Err: err}
	}

	start := time.Now()
	sess := c.journal.Begin(TriggerWake)
	c.metrics.ObserveSessionEvent("wake")
	c.log.Info().Str("session_id", sess.ID).Msg("wake phrase detected")
	c.SetState(StateAwake)

	utterance, ok := c.rec.NextUtterance(ctx, c.cfg.CommandTimeout)
	utterance = strings.TrimSpace(utterance)
	if !ok || utterance == "" {
		c.metrics.ObserveSessionEvent("no_command")
		out := Outcome{Status: OutcomeNoCommand, Reason: ReasonNoCommand, SessionID: sess.ID}
		c.SetState(StateSpeaking)
		if speech, spoke := c.speak(ctx, DidNotCatch); spoke {
			out.Speech = speech
		}
		c.SetState(StateIdle)
		_, _ = c.journal.End(sess.ID, out.Status, "", false)
		return out
	}

	out := c.handle(ctx, sess, utterance)
	c.metrics.ObserveStage("session_total", time.Since(start))
	return out
}

// DispatchText handles a typed command without waiting for the wake phrase.
func (c *Controller) DispatchText(ctx context.Context, utterance string) Outcome {
	if !c.tryAcquire() {
		return c.busy()
	}
	defer c.release()

	start := time.Now()
	sess := c.journal.Begin(TriggerText)
	c.metrics.ObserveSessionEvent("text")
	c.SetState(StateAwake)
	out := c.handle(ctx, sess, strings.TrimSpace(utterance))
	c.metrics.ObserveStage("session_total", time.Since(start))
	return out
}

// handle runs awake -> thinking -> speaking -> idle for one utterance.
func (c *Controller) handle(ctx context.Context, sess *Session, utterance string) Outcome {
	_ = c.journal.SetUtterance(sess.ID, utterance)
	out := Outcome{SessionID: sess.ID, Utterance: utterance}

	if c.cfg.AwakeHold > 0 {
		_ = sleep(ctx, c.cfg.AwakeHold)
	}
	c.SetState(StateThinking)
	res := c.proc.ProcessCommand(ctx, utterance, processor.TurnContext{
		CurrentRoom: c.cfg.CurrentRoom,
		SessionID:   sess.ID,
	})
	out.Result = &res
	c.dispatchTasks(res.Tasks)

	if !res.Success {
		c.log.Warn().Str("session_id", sess.ID).Str("error", res.Error).Msg("command failed")
		c.SetState(StateError)
		if speech, spoke := c.speak(ctx, res.ResponseText); spoke {
			out.Speech = speech
		}
		c.recoverFromError(ctx)
		out.Status = OutcomeFailed
		_, _ = c.journal.End(sess.ID, out.Status, string(res.Kind), false)
		return out
	}

	if res.ResponseText != "" && c.speaker != nil {
		c.SetState(StateSpeaking)
		result := c.speaker.Speak(ctx, res.ResponseText, c.cfg.SpeakerRef)
		out.Speech = &result.Metrics
		if !result.Success {
			out.Err = result.Err
			out.Status = OutcomeFailed
			c.SetState(StateError)
			c.recoverFromError(ctx)
			_, _ = c.journal.End(sess.ID, out.Status, string(res.Kind), false)
			return out
		}
	}

	c.SetState(StateIdle)
	out.Status = OutcomeCompleted
	_, _ = c.journal.End(sess.ID, out.Status, string(res.Kind), true)
	c.log.Info().
		Str("session_id", sess.ID).
		Str("kind", string(res.Kind)).
		Int("tasks", len(res.Tasks)).
		Msg("session completed")
	return out
}

// speak plays text if a speaker is configured, ignoring failures.
func (c *Controller) speak(ctx context.Context, text string) (*tts.StreamingMetrics, bool) {
	if c.speaker == nil || strings.TrimSpace(text) == "" {
		return nil, false
	}
	res := c.speaker.Speak(ctx, text, c.cfg.SpeakerRef)
	if !res.Success {
		c.log.Warn().Err(res.Err).Msg("could not speak reply")
	}
	return &res.Metrics, true
}

// dispatchTasks hands tasks to the sink on a detached goroutine.
func (c *Controller) dispatchTasks(tasks []command.Task) {
	if c.tasks == nil || len(tasks) == 0 {
		return
	}
	batch := append([]command.Task(nil), tasks...)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("task sink panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TaskTimeout)
		defer cancel()
		if err := c.tasks.ApplyTasks(ctx, batch); err != nil {
			c.log.Warn().Err(err).Int("tasks", len(batch)).Msg("task sink reported an error")
		}
	}()
}

func (c *Controller) recoverFromError(ctx context.Context) {
	c.SetState(StateError)
	if c.cfg.ErrorCooldown > 0 {
		_ = sleep(ctx, c.cfg.ErrorCooldown)
	}
	c.SetState(StateIdle)
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
