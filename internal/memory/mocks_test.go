package memory

import (
	"context"
)

// mockSummarizer lets tests script the summarization provider.
type mockSummarizer struct {
	calls         int
	SummarizeFunc func(ctx context.Context, currentSummary, bufferText string) (string, error)
}

func (m *mockSummarizer) Summarize(ctx context.Context, currentSummary, bufferText string) (string, error) {
	m.calls++
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, currentSummary, bufferText)
	}
	return "summary of events", nil
}
