package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkerConfig describes the Python model worker.
type WorkerConfig struct {
	Python       string
	Script       string
	ModelName    string
	Quantization Quantization
	Language     string
	// LoadTimeout bounds the initial load handshake.
	LoadTimeout time.Duration
}

// WorkerModel talks to a long-lived Python process over newline-delimited
// JSON on stdin/stdout. One request is in flight at a time.
type WorkerModel struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	stderr *bytes.Buffer
	closed bool
	lang   string
}

type workerRequest struct {
	ID           string `json:"id"`
	Op           string `json:"op"`
	Model        string `json:"model,omitempty"`
	Quantization string `json:"quantization,omitempty"`
	Text         string `json:"text,omitempty"`
	SpeakerWAV   string `json:"speaker_wav,omitempty"`
	Language     string `json:"language,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

type workerResponse struct {
	ID         string `json:"id"`
	OK         bool   `json:"ok"`
	SampleRate int    `json:"sample_rate"`
	Error      string `json:"error"`
}

// NewWorkerLoader returns a Loader that starts the worker and waits for the
// model to load, applying the quantization transform inside the worker.
func NewWorkerLoader(cfg WorkerConfig, log zerolog.Logger) Loader {
	return func(ctx context.Context) (Model, error) {
		return StartWorker(ctx, cfg, log)
	}
}

func StartWorker(ctx context.Context, cfg WorkerConfig, log zerolog.Logger) (*WorkerModel, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		py = "python3"
	}
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		return nil, errors.New("tts worker script not configured")
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("tts worker script not found: %s", script)
	}

	cmd := exec.Command(py, "-u", script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1", "COQUI_TOS_AGREED=1")
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts worker: %w", err)
	}

	w := &WorkerModel{
		cmd:    cmd,
		stdin:  stdin,
		dec:    json.NewDecoder(bufio.NewReader(stdout)),
		stderr: stderr,
		lang:   cfg.Language,
	}

	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if _, err := w.roundTrip(loadCtx, workerRequest{
		Op:           "load",
		Model:        cfg.ModelName,
		Quantization: string(cfg.Quantization),
	}); err != nil {
		_ = w.Close()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tts worker failed to load %s: %s", cfg.ModelName, msg)
	}
	log.Info().
		Str("model", cfg.ModelName).
		Str("quantization", string(cfg.Quantization)).
		Dur("elapsed", time.Since(start)).
		Msg("tts model loaded")
	return w, nil
}

func (w *WorkerModel) Synthesize(ctx context.Context, req SynthesisRequest) error {
	lang := req.Language
	if lang == "" {
		lang = w.lang
	}
	_, err := w.roundTrip(ctx, workerRequest{
		Op:         "synthesize",
		Text:       req.Text,
		SpeakerWAV: req.SpeakerReference,
		Language:   lang,
		OutputPath: req.OutputPath,
		SampleRate: req.SampleRate,
	})
	return err
}

// roundTrip writes one request line and decodes exactly one response. A
// canceled context kills the worker since the protocol cannot resync.
func (w *WorkerModel) roundTrip(ctx context.Context, req workerRequest) (workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return workerResponse{}, errors.New("tts worker closed")
	}

	req.ID = uuid.NewString()
	b, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, err
	}
	b = append(b, '\n')
	if _, err := w.stdin.Write(b); err != nil {
		return workerResponse{}, fmt.Errorf("write tts worker request: %w", err)
	}

	type decoded struct {
		resp workerResponse
		err  error
	}
	done := make(chan decoded, 1)
	go func() {
		var resp workerResponse
		err := w.dec.Decode(&resp)
		done <- decoded{resp, err}
	}()

	var d decoded
	select {
	case d = <-done:
	case <-ctx.Done():
		if w.cmd != nil && w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		w.closed = true
		return workerResponse{}, ctx.Err()
	}
	if d.err != nil {
		return workerResponse{}, fmt.Errorf("read tts worker response: %w", d.err)
	}
	if d.resp.ID != req.ID {
		return workerResponse{}, fmt.Errorf("tts worker out-of-sync (got %q, expected %q)", d.resp.ID, req.ID)
	}
	if !d.resp.OK {
		msg := strings.TrimSpace(d.resp.Error)
		if msg == "" {
			msg = "unknown tts worker error"
		}
		return d.resp, errors.New(msg)
	}
	return d.resp, nil
}

func (w *WorkerModel) Close() error {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.closed = true
	stdin, cmd := w.stdin, w.cmd
	w.stdin, w.cmd = nil, nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if !alreadyClosed {
		_ = cmd.Process.Signal(os.Interrupt)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(1500 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
