// Package backend holds the smart-home adapters that receive tasks.
package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/command"
)

// Adapter applies tasks to a home-automation or media backend. It owns
// idempotence and error reporting; callers do not wait on it.
type Adapter interface {
	ApplyTasks(ctx context.Context, tasks []command.Task) error
}

// LogAdapter only logs the tasks it receives.
type LogAdapter struct {
	log zerolog.Logger
}

func NewLogAdapter(log zerolog.Logger) *LogAdapter {
	return &LogAdapter{log: log}
}

func (a *LogAdapter) ApplyTasks(_ context.Context, tasks []command.Task) error {
	for _, t := range tasks {
		a.log.Info().
			Str("action", t.Action).
			Str("target", t.Target).
			Str("room", t.Room).
			Int("priority", t.Priority).
			Interface("parameters", t.Parameters).
			Msg("task dispatched")
	}
	return nil
}

// Dispatch is one batch seen by a Recorder.
type Dispatch struct {
	At    time.Time      `json:"at"`
	Tasks []command.Task `json:"tasks"`
}

// Recorder keeps the most recent dispatches for inspection.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	recent []Dispatch
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 50
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) ApplyTasks(_ context.Context, tasks []command.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, Dispatch{At: time.Now().UTC(), Tasks: append([]command.Task(nil), tasks...)})
	if over := len(r.recent) - r.limit; over > 0 {
		r.recent = append([]Dispatch(nil), r.recent[over:]...)
	}
	return nil
}

// Recent returns dispatches oldest first.
func (r *Recorder) Recent() []Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Dispatch(nil), r.recent...)
}

// Fanout forwards every batch to all adapters and joins their errors.
type Fanout []Adapter

func (f Fanout) ApplyTasks(ctx context.Context, tasks []command.Task) error {
	var errs []error
	for _, a := range f {
		if err := a.ApplyTasks(ctx, tasks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
