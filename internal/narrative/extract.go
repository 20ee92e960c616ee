package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storyweave/internal/types"
)

// extractionSystemPrompt instructs the extractor model. The response must
// be a bare JSON array; anything else is treated as an extraction failure
// upstream (silent, non-fatal).
const extractionSystemPrompt = `You identify narrative elements in tabletop roleplay text.
Return ONLY a JSON array. Each item: {"name": string, "type": string, "description": string}.
"type" must be one of: person, location, item, plotEvent, promise, threat.
Only include elements that are concrete and likely to matter later.
Return [] if nothing qualifies.`

// ProviderExtractor implements types.Extractor on top of a ModelProvider,
// parsing the model's JSON output.
type ProviderExtractor struct {
	provider types.ModelProvider
}

// NewProviderExtractor wraps a model provider as an extractor.
func NewProviderExtractor(p types.ModelProvider) *ProviderExtractor {
	return &ProviderExtractor{provider: p}
}

// Extract asks the model for structured elements in turnText.
func (e *ProviderExtractor) Extract(ctx context.Context, turnText string) ([]types.ExtractedElement, error) {
	res, err := e.provider.Generate(ctx, extractionSystemPrompt, turnText, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	return parseElements(res.Text)
}

// parseElements decodes the model output, tolerating markdown code fences
// and leading prose before the array.
func parseElements(raw string) ([]types.ExtractedElement, error) {
	raw = stripFences(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in extraction output")
	}
	var out []types.ExtractedElement
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}
	kept := out[:0]
	for _, el := range out {
		if strings.TrimSpace(el.Name) == "" || !types.ValidElementType(el.Type) {
			continue
		}
		kept = append(kept, el)
	}
	return kept, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
