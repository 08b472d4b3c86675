package recognizer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWakeMatcher(t *testing.T) {
	m := NewWakeMatcher("totoro")
	cases := []struct {
		in   string
		ok   bool
		rest string
	}{
		{"totoro turn on the lights", true, "turn on the lights"},
		{"Hey, Totoro! what time is it?", true, "what time is it?"},
		{"ok totoro", true, ""},
		{"totorooo play music", false, ""},
		{"tell totoro to stop", false, ""},
	}
	for _, tc := range cases {
		ok, rest := m.Match(tc.in)
		if ok != tc.ok || rest != tc.rest {
			t.Fatalf("Match(%q) = %v, %q, want %v, %q", tc.in, ok, rest, tc.ok, tc.rest)
		}
	}

	multi := NewWakeMatcher("hey totoro")
	if ok, rest := multi.Match("hey, totoro lights off"); !ok || rest != "lights off" {
		t.Fatalf("multi-word Match() = %v, %q", ok, rest)
	}
}

func TestLineRecognizerWakeThenRemainder(t *testing.T) {
	r := NewLineRecognizer(strings.NewReader("just chatting\ntotoro turn off the lamp\nnext line\n"), "totoro", zerolog.Nop())

	heard, err := r.WaitForWakePhrase(context.Background(), time.Second)
	if err != nil || !heard {
		t.Fatalf("WaitForWakePhrase() = %v, %v, want true", heard, err)
	}
	u, ok := r.NextUtterance(context.Background(), time.Second)
	if !ok || u != "turn off the lamp" {
		t.Fatalf("NextUtterance() = %q, %v", u, ok)
	}
	u, ok = r.NextUtterance(context.Background(), time.Second)
	if !ok || u != "next line" {
		t.Fatalf("NextUtterance() = %q, %v, want the following line", u, ok)
	}
}

func TestLineRecognizerTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewLineRecognizer(pr, "totoro", zerolog.Nop())

	start := time.Now()
	heard, err := r.WaitForWakePhrase(context.Background(), 30*time.Millisecond)
	if heard || err != nil {
		t.Fatalf("WaitForWakePhrase() = %v, %v, want timeout", heard, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took %s", time.Since(start))
	}
	if _, ok := r.NextUtterance(context.Background(), 20*time.Millisecond); ok {
		t.Fatalf("NextUtterance() ok on silent input")
	}
}

func TestLineRecognizerEOF(t *testing.T) {
	r := NewLineRecognizer(strings.NewReader("hello\n"), "totoro", zerolog.Nop())
	if line, err := r.Next(context.Background()); err != nil || line != "hello" {
		t.Fatalf("Next() = %q, %v", line, err)
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want EOF", err)
	}
	if heard, err := r.WaitForWakePhrase(context.Background(), time.Second); heard || !errors.Is(err, io.EOF) {
		t.Fatalf("WaitForWakePhrase() after EOF = %v, %v", heard, err)
	}
}
