// Package provider implements the model backends. Gemini is the only
// concrete backend; every seat at the table gets its own instance so the
// director, participants, summarizer, and extractor can run different
// models.
package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"storyweave/internal/logging"
	"storyweave/internal/types"
)

// Gemini is a types.ModelProvider backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider for one model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate sends one context block and returns the narration text plus any
// tool calls the model issued.
func (g *Gemini) Generate(ctx context.Context, systemPrompt, contextBlock string, tools []types.ToolDefinition) (*types.GenerateResult, error) {
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toSchema(t.InputSchema),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(contextBlock, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &types.GenerateResult{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    fc.ID,
			Name:  fc.Name,
			Input: fc.Args,
		})
	}
	logging.For(logging.CategoryProvider).Debugw("generate complete",
		"model", g.model, "chars", len(out.Text), "tool_calls", len(out.ToolCalls))
	return out, nil
}

// toSchema converts the JSON-schema-shaped tool input definition into the
// Gemini schema type. Only the subset the tool surface uses is mapped.
func toSchema(def map[string]any) *genai.Schema {
	if def == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, _ := def["type"].(string); t != "" {
		s.Type = schemaType(t)
	}
	if d, _ := def["description"].(string); d != "" {
		s.Description = d
	}
	if props, ok := def["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	switch req := def["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}
