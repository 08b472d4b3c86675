package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/reliability"
)

// Config configures an OllamaClient.
type Config struct {
	BaseURL        string
	Model          string
	MaxAttempts    int
	AttemptTimeout time.Duration
	ConnectTimeout time.Duration
	MaxTokens      int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	TopP           float64
	RepeatPenalty  float64
	Stop           []string
}

// DefaultStop keeps the model from writing the next user turn.
var DefaultStop = []string{"\nUser:", "\nHuman:", "User:"}

// OllamaClient calls a local Ollama-compatible /api/generate endpoint.
type OllamaClient struct {
	cfg      Config
	client   *http.Client
	observer Observer
	log      zerolog.Logger
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaClient(cfg Config, observer Observer, log zerolog.Logger) *OllamaClient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.RepeatPenalty == 0 {
		cfg.RepeatPenalty = 1.1
	}
	if cfg.Stop == nil {
		cfg.Stop = DefaultStop
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	return &OllamaClient{
		cfg:      cfg,
		client:   &http.Client{Transport: transport},
		observer: observer,
		log:      log,
	}
}

// Generate runs up to MaxAttempts attempts. Transport failures, timeouts and
// retryable statuses are retried with backoff; replies rejected by
// req.Validate are retried with the reinforcement instruction.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	system := req.System
	var (
		lastErr  error
		lastText string
	)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-2, c.cfg.BackoffBase, c.cfg.BackoffCap)); err != nil {
				return Response{Attempts: attempt - 1, Elapsed: time.Since(start)}, fmt.Errorf("llm generate: %w", err)
			}
		}

		attemptStart := time.Now()
		text, err := c.generateOnce(ctx, system, req)
		elapsed := time.Since(attemptStart)

		switch {
		case err != nil:
			lastErr = err
			c.observe(req.Dialect, "error", elapsed)
			var status *StatusError
			if errors.As(err, &status) && !reliability.IsRetryableHTTPStatus(status.Code) {
				return Response{Attempts: attempt, Elapsed: time.Since(start)}, err
			}
			if !reliability.IsRetryableError(ctx, err) {
				return Response{Attempts: attempt, Elapsed: time.Since(start)}, err
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Str("dialect", req.Dialect).Msg("llm attempt failed")
		case strings.TrimSpace(text) == "":
			lastErr = ErrEmptyResponse
			c.observe(req.Dialect, "empty", elapsed)
			c.log.Warn().Int("attempt", attempt).Str("dialect", req.Dialect).Msg("llm returned empty text")
		case req.Validate != nil && !req.Validate(text):
			lastText = text
			lastErr = nil
			c.observe(req.Dialect, "invalid", elapsed)
			c.log.Warn().Int("attempt", attempt).Str("dialect", req.Dialect).Msg("llm reply failed validation")
			if req.Reinforcement != "" {
				system = req.System + "\n\n" + req.Reinforcement
			}
		default:
			c.observe(req.Dialect, "ok", elapsed)
			return Response{Text: text, Attempts: attempt, Valid: true, Elapsed: time.Since(start)}, nil
		}
	}

	if lastText != "" {
		return Response{Text: lastText, Attempts: c.cfg.MaxAttempts, Valid: false, Elapsed: time.Since(start)}, nil
	}
	return Response{Attempts: c.cfg.MaxAttempts, Elapsed: time.Since(start)},
		fmt.Errorf("llm generate failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *OllamaClient) generateOnce(ctx context.Context, system string, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: ComposePrompt(system, req.Input),
		Stream: false,
		Options: generateOptions{
			Temperature:   req.Temperature,
			TopP:          c.cfg.TopP,
			RepeatPenalty: c.cfg.RepeatPenalty,
			Stop:          c.cfg.Stop,
			NumPredict:    c.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

func (c *OllamaClient) observe(dialect, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLLMAttempt(dialect, outcome, elapsed)
	}
}

// Ping lists the models served by the endpoint.
func (c *OllamaClient) Ping(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckLiveness pings the endpoint and only logs the outcome.
func (c *OllamaClient) CheckLiveness(ctx context.Context) {
	models, err := c.Ping(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("base_url", c.cfg.BaseURL).Msg("llm endpoint not reachable")
		return
	}
	found := false
	for _, m := range models {
		if m == c.cfg.Model {
			found = true
			break
		}
	}
	ev := c.log.Info()
	if !found {
		ev = c.log.Warn()
	}
	ev.Str("model", c.cfg.Model).Bool("model_available", found).Int("models", len(models)).Msg("llm endpoint reachable")
}
