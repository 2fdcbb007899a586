package llm

import (
	"encoding/json"
	"strings"
)

// ParseResult is the outcome of parsing a structured LLM response. When the
// output was unusable, Value holds the caller's fallback and Fallback is set
// with the reason, so degraded paths are an explicit branch rather than a
// caught exception.
type ParseResult[T any] struct {
	Value    T
	Fallback bool
	Reason   string
}

// ParseOrDefault extracts a JSON object from raw model output and decodes it
// into T. Models routinely wrap JSON in code fences or prose; everything
// outside the outermost braces is ignored. On any failure the provided
// fallback is returned tagged with the reason.
func ParseOrDefault[T any](raw string, fallback T) ParseResult[T] {
	body := extractJSON(raw)
	if body == "" {
		return ParseResult[T]{Value: fallback, Fallback: true, Reason: "no JSON object in output"}
	}

	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return ParseResult[T]{Value: fallback, Fallback: true, Reason: err.Error()}
	}
	return ParseResult[T]{Value: v}
}

func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
