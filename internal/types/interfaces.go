package types

import (
	"context"
)

// ModelProvider is the seam to whatever model backend answers for a role.
// Distinct provider instances exist for the director, each participant, the
// summarizer, and the extractor; the orchestrator is agnostic to which
// concrete backend answers.
type ModelProvider interface {
	Generate(ctx context.Context, systemPrompt, contextBlock string, tools []ToolDefinition) (*GenerateResult, error)
}

// ToolDefinition describes a tool the director model can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// GenerateResult is the model's answer: narration text plus any tool calls.
type GenerateResult struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Summarizer compresses buffered narrative into a running summary. The
// summary must preserve named entities, inventory and resource deltas, quest
// state, and status effects, and discard verbatim dialogue and raw rolls.
type Summarizer interface {
	Summarize(ctx context.Context, currentSummary, bufferText string) (string, error)
}

// ExtractedElement is the raw output of narrative element extraction,
// before upsert into the index.
type ExtractedElement struct {
	Name        string      `json:"name"`
	Type        ElementType `json:"type"`
	Description string      `json:"description"`
}

// Extractor pulls structured narrative elements out of turn text. Any
// failure must surface as an error; callers treat extraction failure as
// silent and non-fatal.
type Extractor interface {
	Extract(ctx context.Context, turnText string) ([]ExtractedElement, error)
}
