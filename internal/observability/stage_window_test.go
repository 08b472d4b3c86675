package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe("tts_perceived", 500)
	w.Observe("tts_perceived", 900)
	w.Observe("tts_perceived", 700)
	w.Observe("llm", 1200)
	w.Observe("", 10)
	w.Observe("llm", -1)
	w.ObserveIndicator("keyword_fallback")
	w.ObserveIndicator("keyword_fallback")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != "llm" || snap.Stages[0].Samples != 1 {
		t.Fatalf("Stages[0] = %+v, want one llm sample", snap.Stages[0])
	}
	s := snap.Stages[1]
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", s.LastMS)
	}
	if s.P50MS != 700 || s.MaxMS != 900 {
		t.Fatalf("P50MS/MaxMS = %.2f/%.2f, want 700/900", s.P50MS, s.MaxMS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 3000 {
		t.Fatalf("TargetP95MS = %.2f, want 3000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want keyword_fallback x2", snap.Indicators)
	}
}

func TestStageWindowKeepsLastSamples(t *testing.T) {
	w := NewStageWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Observe("tools", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 3 || s.AvgMS != 4 || s.LastMS != 5 {
		t.Fatalf("stats = %+v, want window of [3 4 5]", s)
	}
}

func TestNilStageWindowIsSafe(t *testing.T) {
	var w *StageWindow
	w.Observe("llm", 1)
	w.ObserveIndicator("x")
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil window snapshot = %+v", snap)
	}
}
