package memory

import (
	"unicode/utf8"

	"storyweave/internal/types"
)

// Estimator turns text into a token estimate. Implementations must be
// cheap, deterministic, and monotonic in text length; the budget math never
// needs an exact tokenizer, only a stable approximation.
type Estimator func(s string) int

// charsPerToken is calibrated for common model tokenizers (~4 characters
// per token).
const charsPerToken = 4

// CharEstimator estimates tokens from the rune count.
func CharEstimator(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// EstimateEntry estimates tokens for one log entry, including a small
// fixed overhead for attribution.
func EstimateEntry(est Estimator, e types.LogEntry) int {
	return est(e.Text) + 4
}

// EstimateEntries estimates tokens for a slice of entries.
func EstimateEntries(est Estimator, entries []types.LogEntry) int {
	total := 0
	for _, e := range entries {
		total += EstimateEntry(est, e)
	}
	return total
}
