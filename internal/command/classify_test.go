package command

import (
	"testing"

	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		utterance string
		want      Classification
	}{
		{"Turn on the living room lights", Classification{HasSmartHome: true, Complexity: ComplexityStandard}},
		{"What time is it?", Classification{HasGeneral: true, Complexity: ComplexityStandard}},
		{"Turn on bedroom lights and what time is it?", Classification{HasSmartHome: true, HasGeneral: true, IsHybrid: true, Complexity: ComplexityHigh}},
		{"PLAY SOME MUSIC", Classification{HasSmartHome: true, Complexity: ComplexityStandard}},
		{"good morning", Classification{Complexity: ComplexityStandard}},
		{"   ", Classification{Complexity: ComplexityStandard}},
	}
	for _, tc := range cases {
		if got := Classify(tc.utterance); got != tc.want {
			t.Fatalf("Classify(%q) = %+v, want %+v", tc.utterance, got, tc.want)
		}
	}
}

func TestClassificationDialect(t *testing.T) {
	if d := Classify("what's the weather").Dialect(); d != DialectGeneral {
		t.Fatalf("Dialect() = %q, want general", d)
	}
	if d := Classify("dim the kitchen and tell me about owls").Dialect(); d != DialectSmartHome {
		t.Fatalf("hybrid Dialect() = %q, want smart_home", d)
	}
	if !Classify("").Empty() {
		t.Fatalf("Classify(\"\").Empty() = false")
	}
}

func TestClassifyIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		u := rapid.String().Draw(rt, "utterance")
		a, b := Classify(u), Classify(u)
		if a != b {
			rt.Fatalf("Classify(%q) not stable: %+v vs %+v", u, a, b)
		}
		if a.IsHybrid != (a.HasSmartHome && a.HasGeneral) {
			rt.Fatalf("IsHybrid inconsistent: %+v", a)
		}
		if a.IsHybrid != (a.Complexity == ComplexityHigh) {
			rt.Fatalf("Complexity inconsistent: %+v", a)
		}
	})
}
