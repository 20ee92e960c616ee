package provider

import (
	"context"
	"fmt"
	"strings"

	"storyweave/internal/types"
)

const summarySystemPrompt = `You condense play history for a narrative session into a compact running
summary. Preserve every named person, place, and item, inventory and
resource changes, quest and promise state, and active status effects.
Discard verbatim dialogue, dice rolls, and scene-setting prose. Write
terse third-person paragraphs. Return only the summary text.`

// Summarizer adapts a model provider to the summarization seam used by
// memory compression.
type Summarizer struct {
	inner types.ModelProvider
}

// NewSummarizer wraps a provider, typically a cheaper model than the one
// playing the director.
func NewSummarizer(p types.ModelProvider) *Summarizer {
	return &Summarizer{inner: p}
}

// Summarize folds buffered events into the running summary.
func (s *Summarizer) Summarize(ctx context.Context, currentSummary, bufferText string) (string, error) {
	var sb strings.Builder
	if currentSummary != "" {
		sb.WriteString("## Summary So Far\n")
		sb.WriteString(currentSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## New Events\n")
	sb.WriteString(bufferText)

	res, err := s.inner.Generate(ctx, summarySystemPrompt, sb.String(), nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out := strings.TrimSpace(res.Text)
	if out == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	return out, nil
}
