package observability

import (
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the recent samples of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// Indicator counts occurrences of a notable event.
type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StageSnapshot is the JSON body of the perf endpoint.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow keeps the last N latency samples per stage.
type StageWindow struct {
	mu         sync.Mutex
	size       int
	samples    map[string][]float64
	indicators map[string]int
}

// Latency targets for the stages the assistant reports.
var stageTargets = map[string]float64{
	"llm":           4000,
	"tools":         500,
	"tts_synthesis": 2500,
	"tts_perceived": 3000,
	"command_total": 8000,
	"session_total": 12000,
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:       size,
		samples:    make(map[string][]float64),
		indicators: make(map[string]int),
	}
}

// Observe records one sample in milliseconds.
func (w *StageWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := append(w.samples[stage], ms)
	if len(buf) > w.size {
		buf = buf[len(buf)-w.size:]
	}
	w.samples[stage] = buf
}

// ObserveIndicator increments a named counter.
func (w *StageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

// Snapshot computes per-stage statistics, stages sorted by name.
func (w *StageWindow) Snapshot() StageSnapshot {
	snap := StageSnapshot{GeneratedAt: time.Now().UTC()}
	if w == nil {
		return snap
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	snap.WindowSize = w.size

	names := make([]string, 0, len(w.samples))
	for name := range w.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := w.samples[name]
		if len(raw) == 0 {
			continue
		}
		sorted := slices.Clone(raw)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       name,
			Samples:     len(sorted),
			LastMS:      round2(raw[len(raw)-1]),
			AvgMS:       round2(sum / float64(len(sorted))),
			P50MS:       round2(percentile(sorted, 0.50)),
			P95MS:       round2(percentile(sorted, 0.95)),
			MaxMS:       round2(sorted[len(sorted)-1]),
			TargetP95MS: stageTargets[name],
		})
	}

	indicatorNames := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorNames = append(indicatorNames, name)
	}
	sort.Strings(indicatorNames)
	for _, name := range indicatorNames {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
