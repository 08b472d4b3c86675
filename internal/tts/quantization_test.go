package tts

import "testing"

func TestParseQuantization(t *testing.T) {
	cases := map[string]Quantization{
		"":         QuantizationNone,
		"none":     QuantizationNone,
		"FP16":     QuantizationFP16,
		" dynamic": QuantizationDynamic,
	}
	for in, want := range cases {
		got, err := ParseQuantization(in)
		if err != nil || got != want {
			t.Fatalf("ParseQuantization(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseQuantization("int4"); err == nil {
		t.Fatalf("ParseQuantization(int4) error = nil")
	}
}

func TestQuantizationProfiles(t *testing.T) {
	fp16 := QuantizationFP16.Profile()
	if fp16.MemoryReduction.Min != 50 || fp16.QualityRetention < 98 {
		t.Fatalf("fp16 profile = %+v", fp16)
	}
	dyn := QuantizationDynamic.Profile()
	if dyn.MemoryReduction.Min != 35 || dyn.MemoryReduction.Max != 60 || dyn.QualityRetention < 90 {
		t.Fatalf("dynamic profile = %+v", dyn)
	}
	if dyn.Speedup.Min < 25 || dyn.Speedup.Max > 40 {
		t.Fatalf("dynamic speedup = %+v, want within 25-40", dyn.Speedup)
	}
	if none := QuantizationNone.Profile(); none.QualityRetention != 100 {
		t.Fatalf("none profile = %+v", none)
	}
}
