package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments and the rolling stage window.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LLMAttempts      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ToolLatency      prometheus.Histogram
	TasksEmitted     *prometheus.CounterVec
	Results          *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	VisualState      *prometheus.GaugeVec
	SessionEvents    *prometheus.CounterVec
	TTSSynthesis     prometheus.Histogram
	TTSPerceived     prometheus.Histogram
	TTSChunks        prometheus.Counter
	TTSFailures      *prometheus.CounterVec

	Stages   *StageWindow
	gatherer prometheus.Gatherer
}

// NewMetrics registers every instrument on reg. Use a fresh
// prometheus.NewRegistry() per instance in tests.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	latencyBuckets := []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000}
	return &Metrics{
		LLMAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_attempts_total",
			Help:      "LLM generation attempts by dialect and outcome.",
		}, []string{"dialect", "outcome"}),
		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_attempt_latency_ms",
			Help:      "Latency of single LLM attempts in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"dialect"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "General tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_ms",
			Help:      "General tool handler latency in milliseconds.",
			Buckets:   []float64{1, 5, 25, 100, 250, 1000},
		}),
		TasksEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_emitted_total",
			Help:      "Smart-home tasks handed to the backend adapter, by action and source.",
		}, []string{"action", "source"}),
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "Processed utterances by result kind and success.",
		}, []string{"kind", "success"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Visual state transitions.",
		}, []string{"from", "to"}),
		VisualState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visual_state",
			Help:      "1 for the current visual state, 0 otherwise.",
		}, []string{"state"}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TTSSynthesis: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_ms",
			Help:      "Time to synthesize a full waveform in milliseconds.",
			Buckets:   latencyBuckets,
		}),
		TTSPerceived: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_perceived_latency_ms",
			Help:      "Time from speak call to first enqueued chunk in milliseconds.",
			Buckets:   latencyBuckets,
		}),
		TTSChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_total",
			Help:      "Audio chunks produced for playback.",
		}),
		TTSFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_failures_total",
			Help:      "Speak failures by stage.",
		}, []string{"stage"}),
		Stages:   NewStageWindow(256),
		gatherer: reg,
	}
}

// Handler serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLLMAttempt(dialect, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LLMAttempts.WithLabelValues(dialect, outcome).Inc()
	m.LLMLatency.WithLabelValues(dialect).Observe(ms(elapsed))
	if outcome != "ok" {
		m.Stages.ObserveIndicator("llm_" + outcome)
	}
}

func (m *Metrics) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolLatency.Observe(ms(elapsed))
}

// ObserveStage feeds the rolling latency window.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Stages.Observe(stage, ms(elapsed))
}

// ObserveIndicator counts a notable event in the rolling window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.Stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveTask(action, source string) {
	if m == nil {
		return
	}
	m.TasksEmitted.WithLabelValues(action, source).Inc()
}

func (m *Metrics) ObserveResult(kind string, success bool) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) ObserveStateChange(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.VisualState.WithLabelValues(from).Set(0)
	m.VisualState.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSynthesis(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TTSSynthesis.Observe(ms(elapsed))
	m.Stages.Observe("tts_synthesis", ms(elapsed))
}

func (m *Metrics) ObservePlayback(perceived time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.TTSPerceived.Observe(ms(perceived))
	m.TTSChunks.Add(float64(chunks))
	m.Stages.Observe("tts_perceived", ms(perceived))
}

func (m *Metrics) ObserveTTSFailure(stage string) {
	if m == nil {
		return
	}
	m.TTSFailures.WithLabelValues(stage).Inc()
	m.Stages.ObserveIndicator("tts_" + stage + "_failed")
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
