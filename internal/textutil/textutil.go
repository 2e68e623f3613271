// Package textutil holds small text helpers shared by logging and tracing.
package textutil

// Truncate shortens s to at most n runes, appending an ellipsis marker when
// anything was cut. Used for prompts and completions attached to spans and
// interaction logs.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n]) + "..."
}

// EstimateTokens approximates the token count of s using the fixed heuristic
// of roughly 4 characters per token, minimum 1. The estimate exists for
// telemetry only and must never feed provider-side length enforcement.
func EstimateTokens(s string) int {
	if s == "" {
		return 1
	}

	n := len(s) / 4
	if n < 1 {
		n = 1
	}

	return n
}
