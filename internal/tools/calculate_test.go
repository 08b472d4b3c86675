package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestCalculate(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"15 * 23", "345"},
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"7 / 2", "3.5"},
		{"10 / 4 - 0.5", "2"},
		{"-(4 - 6)", "2"},
		{" 2 *  -3 ", "-6"},
		{"0.1 + 0.2", "0.30000000000000004"},
	}
	for _, tc := range cases {
		got, err := Calculate(tc.expr)
		if err != nil {
			t.Fatalf("Calculate(%q) error = %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("Calculate(%q) = %q, want %q", tc.expr, got, tc.want)
		}
	}
}

func TestCalculateErrors(t *testing.T) {
	for _, expr := range []string{"1 / 0", "(1 + 2", "1 +", "1..2", "()", "3 4"} {
		if _, err := Calculate(expr); err == nil {
			t.Fatalf("Calculate(%q) error = nil, want error", expr)
		} else if errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("Calculate(%q) error = %v, want evaluation error", expr, err)
		}
	}
	if _, err := Calculate(strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)); err == nil {
		t.Fatalf("Calculate(deep nesting) error = nil, want depth error")
	}
}

func TestCalculateHandlerRejectsCode(t *testing.T) {
	got, err := calculateHandler(context.Background(), map[string]string{
		"expression": "__import__('os').system('x')",
	})
	if err != nil {
		t.Fatalf("calculate error = %v", err)
	}
	if got != "Invalid expression" {
		t.Fatalf("calculate = %q, want %q", got, "Invalid expression")
	}

	got, _ = calculateHandler(context.Background(), map[string]string{"expression": "1/0"})
	if got != "Calculation error: division by zero" {
		t.Fatalf("calculate(1/0) = %q", got)
	}
}

func TestCalculateRejectsForeignCharacters(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.StringOfN(rapid.RuneFrom([]rune(allowedExpressionChars)), 0, 12, -1).Draw(rt, "prefix")
		bad := rapid.Rune().Filter(func(r rune) bool {
			return !strings.ContainsRune(allowedExpressionChars, r)
		}).Draw(rt, "bad")
		suffix := rapid.StringOfN(rapid.RuneFrom([]rune(allowedExpressionChars)), 0, 12, -1).Draw(rt, "suffix")

		expr := prefix + string(bad) + suffix
		if _, err := Calculate(expr); !errors.Is(err, ErrInvalidExpression) {
			rt.Fatalf("Calculate(%q) error = %v, want ErrInvalidExpression", expr, err)
		}
	})
}
