package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the format get_time reports in.
const TimeLayout = "2006-01-02 15:04:05"

// InvalidExpressionResult is what calculate returns for rejected input.
const InvalidExpressionResult = "Invalid expression"

// DefaultTools returns the built-in general tools. Weather and search return
// canned text until a real provider is configured.
func DefaultTools(now func() time.Time) []ToolSpec {
	return []ToolSpec{
		{
			Spec:    Spec{Name: "get_time", Description: "Get the current date and time"},
			Handler: timeHandler(now),
		},
		{
			Spec:    Spec{Name: "calculate", Description: "Evaluate an arithmetic expression", ParameterNames: []string{"expression"}},
			Handler: calculateHandler,
		},
		{
			Spec:    Spec{Name: "get_weather", Description: "Get the weather for a location", ParameterNames: []string{"location"}},
			Handler: weatherHandler,
		},
		{
			Spec:    Spec{Name: "web_search", Description: "Search the web for information", ParameterNames: []string{"query"}},
			Handler: searchHandler,
		},
	}
}

func timeHandler(now func() time.Time) Handler {
	return func(context.Context, map[string]string) (string, error) {
		return now().Format(TimeLayout), nil
	}
}

func calculateHandler(_ context.Context, params map[string]string) (string, error) {
	out, err := Calculate(params["expression"])
	if errors.Is(err, ErrInvalidExpression) {
		return InvalidExpressionResult, nil
	}
	if err != nil {
		return "Calculation error: " + err.Error(), nil
	}
	return out, nil
}

func weatherHandler(_ context.Context, params map[string]string) (string, error) {
	location := strings.TrimSpace(params["location"])
	if location == "" {
		location = "your location"
	}
	return fmt.Sprintf("Weather in %s: Sunny, 72°F with light clouds", location), nil
}

func searchHandler(_ context.Context, params map[string]string) (string, error) {
	query := strings.TrimSpace(params["query"])
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return fmt.Sprintf("Search results for '%s': Found relevant information about %s.", query, query), nil
}
