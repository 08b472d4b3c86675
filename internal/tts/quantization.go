package tts

import (
	"fmt"
	"strings"
)

// Quantization is the transform applied to the model weights at load time.
type Quantization string

const (
	QuantizationNone    Quantization = "none"
	QuantizationFP16    Quantization = "fp16"
	QuantizationDynamic Quantization = "dynamic"
)

// ParseQuantization accepts none, fp16 or dynamic; empty means none.
func ParseQuantization(s string) (Quantization, error) {
	switch q := Quantization(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return QuantizationNone, nil
	case QuantizationNone, QuantizationFP16, QuantizationDynamic:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quantization %q (want none, fp16 or dynamic)", s)
	}
}

// Range is an inclusive percentage interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Profile is what a quantization strategy advertises. The figures are
// expectations reported to operators, not measurements.
type Profile struct {
	Strategy Quantization `json:"strategy"`
	// Layers lists what the transform touches.
	Layers          string `json:"layers"`
	MemoryReduction Range  `json:"memory_reduction_pct"`
	Speedup         Range  `json:"speedup_pct"`
	// QualityRetention is the minimum acceptable similarity to the
	// unquantized output, in percent.
	QualityRetention float64 `json:"quality_retention_pct"`
}

func (q Quantization) Profile() Profile {
	switch q {
	case QuantizationFP16:
		return Profile{
			Strategy:         q,
			Layers:           "all parameters to half precision",
			MemoryReduction:  Range{Min: 50, Max: 50},
			Speedup:          Range{Min: 25, Max: 40},
			QualityRetention: 98,
		}
	case QuantizationDynamic:
		return Profile{
			Strategy:         q,
			Layers:           "linear and conv1d layers to int8",
			MemoryReduction:  Range{Min: 35, Max: 60},
			Speedup:          Range{Min: 25, Max: 40},
			QualityRetention: 90,
		}
	default:
		return Profile{Strategy: QuantizationNone, Layers: "none", QualityRetention: 100}
	}
}
