package backend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/command"
)

type errAdapter struct{}

func (errAdapter) ApplyTasks(context.Context, []command.Task) error { return errors.New("hub offline") }

func TestFanoutRecordsAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(2)
	f := Fanout{NewLogAdapter(zerolog.New(&buf)), rec, errAdapter{}}

	task := command.Task{Action: "pause_music", Target: "default", Parameters: map[string]any{}, Priority: 1}
	for i := 0; i < 3; i++ {
		err := f.ApplyTasks(context.Background(), []command.Task{task})
		if err == nil || !strings.Contains(err.Error(), "hub offline") {
			t.Fatalf("ApplyTasks() error = %v, want joined adapter error", err)
		}
	}
	if got := len(rec.Recent()); got != 2 {
		t.Fatalf("len(Recent) = %d, want 2", got)
	}
	if !strings.Contains(buf.String(), `"action":"pause_music"`) {
		t.Fatalf("log output = %s, want dispatched action", buf.String())
	}
}
