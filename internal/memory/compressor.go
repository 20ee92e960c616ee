package memory

import (
	"context"
	"fmt"
	"strings"

	"storyweave/internal/logging"
	"storyweave/internal/types"
)

// CompressorConfig defines compression parameters.
type CompressorConfig struct {
	// RetentionCount is the number of most recent buffer entries kept
	// verbatim; everything older is folded into the summary.
	RetentionCount int

	// MaxPasses bounds summary-of-summary recursion when the merged
	// summary plus retained tail still exceeds the token limit.
	MaxPasses int

	// HardCharCeiling caps the character length of text sent to the
	// summarizer. This is a safety cap independent of the model's nominal
	// limit and is applied even when repeated failures let a buffer grow.
	HardCharCeiling int
}

// Compressor folds the older part of an agent's buffer into its running
// long-term summary. Compression is idempotent with respect to failure: if
// the summarizer call fails the buffer is left untouched and the next
// near-limit check retriggers it.
type Compressor struct {
	store      *Store
	summarizer types.Summarizer
	cfg        CompressorConfig
}

// NewCompressor creates a compressor over the given store.
func NewCompressor(store *Store, summarizer types.Summarizer, cfg CompressorConfig) *Compressor {
	if cfg.RetentionCount < 1 {
		cfg.RetentionCount = 1
	}
	if cfg.MaxPasses < 1 {
		cfg.MaxPasses = 1
	}
	return &Compressor{store: store, summarizer: summarizer, cfg: cfg}
}

// Compress summarizes every buffer entry except the most recent
// RetentionCount into the agent's long-term summary, then enforces the
// token budget with bounded re-compression passes. Exceeding the budget
// after the pass cap is a recoverable degradation, not an error.
func (c *Compressor) Compress(ctx context.Context, agentID string) error {
	log := logging.For(logging.CategoryMemory)

	snap, ok := c.store.Snapshot(agentID)
	if !ok {
		return fmt.Errorf("compress: unknown agent %q", agentID)
	}
	if len(snap.ShortTermBuffer) <= c.cfg.RetentionCount {
		return nil
	}

	cut := len(snap.ShortTermBuffer) - c.cfg.RetentionCount
	head := snap.ShortTermBuffer[:cut]
	tail := snap.ShortTermBuffer[cut:]

	text := concatEntries(head)
	if c.cfg.HardCharCeiling > 0 && len(text) > c.cfg.HardCharCeiling {
		log.Warnw("buffer text over hard ceiling, truncating",
			"agent", agentID, "chars", len(text), "ceiling", c.cfg.HardCharCeiling)
		text = truncateRunes(text, c.cfg.HardCharCeiling)
	}

	fresh, err := c.summarizer.Summarize(ctx, snap.LongTermSummary, text)
	if err != nil {
		// Buffer stays uncompressed; the next near-limit check retries.
		return fmt.Errorf("compress agent %q: %w", agentID, err)
	}

	merged := MergeSummaries(snap.LongTermSummary, fresh)

	merged, err = c.enforceBudget(ctx, agentID, merged, tail, snap.TokenLimit)
	if err != nil {
		return err
	}

	if err := c.store.replace(agentID, merged, tail); err != nil {
		return err
	}
	log.Infow("compressed buffer",
		"agent", agentID, "folded_entries", len(head), "retained", len(tail),
		"summary_tokens", CharEstimator(merged))
	return nil
}

// enforceBudget re-compresses the summary itself while the summary plus
// retained tail still exceeds the token limit, up to MaxPasses.
func (c *Compressor) enforceBudget(ctx context.Context, agentID, summary string, tail []types.LogEntry, limit int) (string, error) {
	log := logging.For(logging.CategoryMemory)
	tailTokens := EstimateEntries(CharEstimator, tail)

	for pass := 0; pass < c.cfg.MaxPasses; pass++ {
		if CharEstimator(summary)+tailTokens <= limit {
			return summary, nil
		}
		input := summary
		if c.cfg.HardCharCeiling > 0 && len(input) > c.cfg.HardCharCeiling {
			input = truncateRunes(input, c.cfg.HardCharCeiling)
		}
		re, err := c.summarizer.Summarize(ctx, "", input)
		if err != nil {
			return "", fmt.Errorf("re-compress agent %q (pass %d): %w", agentID, pass+1, err)
		}
		summary = re
	}

	if CharEstimator(summary)+tailTokens > limit {
		log.Warnw("still over budget after max passes, proceeding",
			"agent", agentID, "passes", c.cfg.MaxPasses,
			"tokens", CharEstimator(summary)+tailTokens, "limit", limit)
	}
	return summary, nil
}

// MergeSummaries combines an old and a new summary into one text without
// duplication. Pure function: paragraphs of the new summary that already
// appear verbatim in the old one are dropped.
func MergeSummaries(old, fresh string) string {
	old = strings.TrimSpace(old)
	fresh = strings.TrimSpace(fresh)
	if old == "" {
		return fresh
	}
	if fresh == "" {
		return old
	}

	var keep []string
	for _, para := range strings.Split(fresh, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.Contains(old, para) {
			continue
		}
		keep = append(keep, para)
	}
	if len(keep) == 0 {
		return old
	}
	return old + "\n\n" + strings.Join(keep, "\n\n")
}

func concatEntries(entries []types.LogEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.SpeakerID)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
