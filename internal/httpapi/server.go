package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/backend"
	"github.com/ent0n29/totoro/internal/config"
	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/observability"
	"github.com/ent0n29/totoro/internal/protocol"
	"github.com/ent0n29/totoro/internal/session"
	"github.com/ent0n29/totoro/internal/tts"
)

// Controller is the part of the session controller the API drives.
type Controller interface {
	State() session.VisualState
	Active() bool
	Subscribe(fn func(session.StateChange)) (unsubscribe func())
	DispatchText(ctx context.Context, utterance string) session.Outcome
	StartWakeSession(ctx context.Context, timeout time.Duration) session.Outcome
	Journal() *session.Journal
}

type Server struct {
	cfg      config.Config
	ctrl     Controller
	metrics  *observability.Metrics
	recorder *backend.Recorder
	archive  memory.Archive
	log      zerolog.Logger
	upgrader websocket.Upgrader

	// wsIdleTimeout closes a state socket that answers no ping for this
	// long; wsPingInterval must stay below it.
	wsIdleTimeout  time.Duration
	wsPingInterval time.Duration
}

// New builds the state server. recorder and archive may be nil.
func New(cfg config.Config, ctrl Controller, metrics *observability.Metrics, recorder *backend.Recorder, archive memory.Archive, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		metrics:  metrics,
		recorder: recorder,
		archive:  archive,
		log:      log,

		wsIdleTimeout:  120 * time.Second,
		wsPingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the assistant.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/perf", s.handlePerf)
	r.Get("/v1/state", s.handleState)
	r.Get("/v1/state/ws", s.handleStateWS)
	r.Post("/v1/commands", s.handleCommand)
	r.Post("/v1/wake", s.handleWake)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/turns", s.handleListTurns)
	r.Get("/v1/tts/quantization", s.handleQuantization)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           s.cfg.Mode,
		"state":          s.ctrl.State(),
		"session_active": s.ctrl.Active(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.ctrl.State()
	if state == session.StateLoading {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading", "state": state})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "state": state})
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil || s.metrics.Stages == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Stages.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() protocol.StateSnapshot {
	return protocol.StateSnapshot{
		Type:          protocol.TypeStateSnapshot,
		State:         string(s.ctrl.State()),
		SessionActive: s.ctrl.Active(),
		TSMs:          time.Now().UnixMilli(),
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req protocol.CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	out := s.ctrl.DispatchText(r.Context(), req.Text)
	respondJSON(w, outcomeStatus(out), out)
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req protocol.WakeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.TimeoutMS < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "timeout_ms must be >= 0")
		return
	}
	out := s.ctrl.StartWakeSession(r.Context(), s.wakeTimeout(req.TimeoutMS))
	respondJSON(w, outcomeStatus(out), out)
}

func (s *Server) wakeTimeout(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return s.cfg.RecognitionTimeout()
}

func outcomeStatus(out session.Outcome) int {
	if out.Status == session.OutcomeBusy {
		return http.StatusConflict
	}
	return http.StatusOK
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.ctrl.Journal().Recent(limit)})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	turns := []memory.ArchivedTurn{}
	if s.archive != nil {
		recent, err := s.archive.Recent(r.Context(), limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "archive_unavailable", err.Error())
			return
		}
		turns = append(turns, recent...)
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 20, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.ctrl.Journal().Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	dispatches := []backend.Dispatch{}
	if s.recorder != nil {
		dispatches = append(dispatches, s.recorder.Recent()...)
	}
	respondJSON(w, http.StatusOK, map[string]any{"dispatches": dispatches})
}

func (s *Server) handleQuantization(w http.ResponseWriter, _ *http.Request) {
	q, err := tts.ParseQuantization(s.cfg.TTSQuantization)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "invalid_quantization", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"model":   s.cfg.TTSModelName,
		"profile": q.Profile(),
	})
}

// handleStateWS streams state changes and accepts typed commands. All
// writes go through one goroutine.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			s.log.Warn().Msg("state websocket queue full, dropping message")
		}
	}

	outbound <- s.snapshot()
	unsubscribe := s.ctrl.Subscribe(func(change session.StateChange) {
		enqueue(protocol.StateChange{
			Type: protocol.TypeStateChange,
			From: string(change.From),
			To:   string(change.To),
			TSMs: change.At.UnixMilli(),
		})
	})
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(s.wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.wsIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		switch msg := parsed.(type) {
		case protocol.ClientCommand:
			go func() { enqueue(outcomeMessage(s.ctrl.DispatchText(ctx, msg.Text))) }()
		case protocol.ClientWake:
			go func() { enqueue(outcomeMessage(s.ctrl.StartWakeSession(ctx, s.wakeTimeout(msg.TimeoutMS)))) }()
		}
	}

	cancel()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func outcomeMessage(out session.Outcome) protocol.SessionOutcome {
	msg := protocol.SessionOutcome{
		Type:      protocol.TypeSessionOutcome,
		SessionID: out.SessionID,
		Status:    string(out.Status),
		Reason:    out.Reason,
		Utterance: out.Utterance,
	}
	if out.Result != nil {
		msg.ResponseText = out.Result.ResponseText
		msg.Kind = string(out.Result.Kind)
		msg.Tasks = len(out.Result.Tasks)
		msg.ToolCalls = len(out.Result.ToolCalls)
	}
	return msg
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
