package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"storyweave/internal/types"
)

// mockProvider records every context block it is handed and answers via an
// optional per-call function. Without one it returns fixed text.
type mockProvider struct {
	mu    sync.Mutex
	calls []string
	text  string
	fn    func(call int, contextBlock string) (*types.GenerateResult, error)
}

func (m *mockProvider) Generate(_ context.Context, _ string, contextBlock string, _ []types.ToolDefinition) (*types.GenerateResult, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, contextBlock)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(n, contextBlock)
	}
	text := m.text
	if text == "" {
		text = fmt.Sprintf("reply %d", n)
	}
	return &types.GenerateResult{Text: text}, nil
}

func (m *mockProvider) contexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (m *mockSummarizer) Summarize(_ context.Context, currentSummary, bufferText string) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return fmt.Sprintf("summary %d", n), nil
}

func (m *mockSummarizer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockExtractor struct {
	mu      sync.Mutex
	results map[string][]types.ExtractedElement // keyed by substring of turn text
}

func (m *mockExtractor) Extract(_ context.Context, turnText string) ([]types.ExtractedElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, els := range m.results {
		if key != "" && strings.Contains(turnText, key) {
			return els, nil
		}
	}
	return nil, nil
}
