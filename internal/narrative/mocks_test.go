package narrative

import (
	"context"

	"storyweave/internal/types"
)

// mockExtractor scripts extraction results for index tests.
type mockExtractor struct {
	calls       int
	ExtractFunc func(ctx context.Context, turnText string) ([]types.ExtractedElement, error)
}

func (m *mockExtractor) Extract(ctx context.Context, turnText string) ([]types.ExtractedElement, error) {
	m.calls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, turnText)
	}
	return nil, nil
}

// mockProvider scripts raw model output for extractor parsing tests.
type mockProvider struct {
	text string
	err  error
}

func (m *mockProvider) Generate(ctx context.Context, systemPrompt, contextBlock string, tools []types.ToolDefinition) (*types.GenerateResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &types.GenerateResult{Text: m.text}, nil
}
