// Package recognizer provides a text stand-in for the speech recognizer:
// each line read is one recognized utterance.
package recognizer

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WakeMatcher finds the wake phrase at the start of an utterance.
type WakeMatcher struct {
	re *regexp.Regexp
}

// NewWakeMatcher accepts the wake word optionally preceded by a greeting
// ("hey", "hi", "ok", "okay") and followed by punctuation.
func NewWakeMatcher(wakeWord string) *WakeMatcher {
	words := strings.Fields(strings.ToLower(wakeWord))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	phrase := strings.Join(words, `[\s,.:;!?-]+`)
	return &WakeMatcher{re: regexp.MustCompile(`(?i)^\s*(?:(?:hey|hi|ok|okay)\b[\s,.:;!?-]*)?` + phrase + `\b[\s,.:;!?-]*(.*)$`)}
}

// Match reports whether text opens with the wake phrase and returns the
// rest of the utterance.
func (m *WakeMatcher) Match(text string) (bool, string) {
	sub := m.re.FindStringSubmatch(text)
	if sub == nil {
		return false, ""
	}
	return true, strings.TrimSpace(sub[1])
}

// LineRecognizer reads utterances line by line from r.
type LineRecognizer struct {
	wake  *WakeMatcher
	lines chan string
	log   zerolog.Logger

	mu      sync.Mutex
	pending string
	err     error
}

func NewLineRecognizer(r io.Reader, wakeWord string, log zerolog.Logger) *LineRecognizer {
	lr := &LineRecognizer{
		wake:  NewWakeMatcher(wakeWord),
		lines: make(chan string, 16),
		log:   log,
	}
	go lr.scan(r)
	return lr
}

func (lr *LineRecognizer) scan(r io.Reader) {
	defer close(lr.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lr.lines <- line
		}
	}
	lr.mu.Lock()
	lr.err = sc.Err()
	if lr.err == nil {
		lr.err = io.EOF
	}
	lr.mu.Unlock()
}

// next waits for one line. timeout <= 0 waits until ctx ends.
func (lr *LineRecognizer) next(ctx context.Context, timeout time.Duration) (string, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case line, ok := <-lr.lines:
		if !ok {
			lr.mu.Lock()
			defer lr.mu.Unlock()
			return "", lr.err
		}
		return line, nil
	case <-timer:
		return "", errTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "recognition timed out" }

var errTimeout error = timeoutError{}

// WaitForWakePhrase consumes lines until one starts with the wake phrase.
// Text after the phrase becomes the next utterance.
func (lr *LineRecognizer) WaitForWakePhrase(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return false, nil
		}
		if timeout <= 0 {
			remaining = 0
		}
		line, err := lr.next(ctx, remaining)
		if err == errTimeout {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if ok, rest := lr.wake.Match(line); ok {
			lr.mu.Lock()
			lr.pending = rest
			lr.mu.Unlock()
			return true, nil
		}
		lr.log.Debug().Str("line", line).Msg("ignoring speech without wake phrase")
	}
}

// NextUtterance returns the text that followed the wake phrase, or the
// next line within timeout.
func (lr *LineRecognizer) NextUtterance(ctx context.Context, timeout time.Duration) (string, bool) {
	lr.mu.Lock()
	pending := lr.pending
	lr.pending = ""
	lr.mu.Unlock()
	if pending != "" {
		return pending, true
	}
	line, err := lr.next(ctx, timeout)
	if err != nil {
		return "", false
	}
	return line, true
}

// Next blocks for the next line without wake detection. It returns io.EOF
// when the input ends.
func (lr *LineRecognizer) Next(ctx context.Context) (string, error) {
	return lr.next(ctx, 0)
}
