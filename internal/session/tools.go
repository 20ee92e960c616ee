package session

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"storyweave/internal/types"
)

// directorTools is the tool surface exposed to the director model. Only the
// director gets tools; participants answer in prose.
func directorTools() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        "roll",
			Description: "Roll dice using NdM or NdM+K notation, e.g. 2d6+1.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"spec":   map[string]any{"type": "string", "description": "dice expression"},
					"reason": map[string]any{"type": "string", "description": "what the roll decides"},
				},
				"required": []string{"spec"},
			},
		},
		{
			Name: "update_sheet",
			Description: "Update one field of a participant's character sheet. " +
				"Field is one of: hp, max_hp, resources.<name>, conditions.add, conditions.remove, facts.add.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
					"field":    map[string]any{"type": "string"},
					"value":    map[string]any{"description": "number for hp/max_hp/resources, string for conditions/facts"},
				},
				"required": []string{"agent_id", "field", "value"},
			},
		},
		{
			Name:        "whisper",
			Description: "Send a private note to one participant. No other participant will see it.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
					"content":  map[string]any{"type": "string"},
				},
				"required": []string{"agent_id", "content"},
			},
		},
		{
			Name:        "reveal_whisper",
			Description: "Reveal a previously sent whisper to the whole table.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id":   map[string]any{"type": "string"},
					"whisper_id": map[string]any{"type": "string"},
				},
				"required": []string{"agent_id", "whisper_id"},
			},
		},
	}
}

// applyToolCalls executes the director's tool calls against the session
// state. It stops at the first invalid call and returns its error so the
// caller can issue one corrective retry; calls before the failure stay
// applied, matching the model's view of sequential execution.
func applyToolCalls(st *types.SessionState, rng *rand.Rand, calls []types.ToolCall) ([]string, error) {
	var effects []string
	for _, call := range calls {
		effect, err := applyToolCall(st, rng, call)
		if err != nil {
			return effects, fmt.Errorf("tool %s: %w", call.Name, err)
		}
		if effect != "" {
			effects = append(effects, effect)
		}
	}
	return effects, nil
}

func applyToolCall(st *types.SessionState, rng *rand.Rand, call types.ToolCall) (string, error) {
	switch call.Name {
	case "roll":
		spec, err := stringArg(call.Input, "spec")
		if err != nil {
			return "", err
		}
		res, err := Roll(rng, spec)
		if err != nil {
			return "", err
		}
		if reason, _ := call.Input["reason"].(string); reason != "" {
			return fmt.Sprintf("(roll, %s) %s", reason, res), nil
		}
		return fmt.Sprintf("(roll) %s", res), nil

	case "update_sheet":
		return applySheetUpdate(st, call.Input)

	case "whisper":
		agentID, err := stringArg(call.Input, "agent_id")
		if err != nil {
			return "", err
		}
		content, err := stringArg(call.Input, "content")
		if err != nil {
			return "", err
		}
		if _, ok := st.Sheets[agentID]; !ok {
			return "", fmt.Errorf("unknown participant %q", agentID)
		}
		st.Secrets[agentID] = append(st.Secrets[agentID], types.Whisper{
			ID:          uuid.NewString(),
			Content:     content,
			TurnCreated: st.Turn,
		})
		// Whisper contents never enter the shared record.
		return fmt.Sprintf("(whisper sent to %s)", agentID), nil

	case "reveal_whisper":
		agentID, err := stringArg(call.Input, "agent_id")
		if err != nil {
			return "", err
		}
		whisperID, err := stringArg(call.Input, "whisper_id")
		if err != nil {
			return "", err
		}
		ws := st.Secrets[agentID]
		for i := range ws {
			if ws[i].ID != whisperID {
				continue
			}
			if ws[i].Revealed {
				return "", fmt.Errorf("whisper %q already revealed", whisperID)
			}
			ws[i].Revealed = true
			ws[i].TurnRevealed = st.Turn
			return fmt.Sprintf("(revealed to the table) %s", ws[i].Content), nil
		}
		return "", fmt.Errorf("no whisper %q for participant %q", whisperID, agentID)

	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func applySheetUpdate(st *types.SessionState, input map[string]any) (string, error) {
	agentID, err := stringArg(input, "agent_id")
	if err != nil {
		return "", err
	}
	field, err := stringArg(input, "field")
	if err != nil {
		return "", err
	}
	sheet, ok := st.Sheets[agentID]
	if !ok {
		return "", fmt.Errorf("unknown participant %q", agentID)
	}

	switch {
	case field == "hp":
		n, err := intArg(input, "value")
		if err != nil {
			return "", err
		}
		if n < 0 {
			n = 0
		}
		if sheet.MaxHP > 0 && n > sheet.MaxHP {
			n = sheet.MaxHP
		}
		sheet.HP = n
		return fmt.Sprintf("(%s hp -> %d/%d)", agentID, sheet.HP, sheet.MaxHP), nil

	case field == "max_hp":
		n, err := intArg(input, "value")
		if err != nil {
			return "", err
		}
		if n < 1 {
			return "", fmt.Errorf("max_hp must be positive, got %d", n)
		}
		sheet.MaxHP = n
		if sheet.HP > n {
			sheet.HP = n
		}
		return fmt.Sprintf("(%s max_hp -> %d)", agentID, n), nil

	case strings.HasPrefix(field, "resources."):
		name := strings.TrimPrefix(field, "resources.")
		if name == "" {
			return "", fmt.Errorf("resource field needs a name, e.g. resources.arrows")
		}
		n, err := intArg(input, "value")
		if err != nil {
			return "", err
		}
		if n < 0 {
			return "", fmt.Errorf("resource %q cannot go negative (%d)", name, n)
		}
		if sheet.Resources == nil {
			sheet.Resources = make(map[string]int)
		}
		sheet.Resources[name] = n
		return fmt.Sprintf("(%s %s -> %d)", agentID, name, n), nil

	case field == "conditions.add":
		tag, err := stringArg(input, "value")
		if err != nil {
			return "", err
		}
		for _, c := range sheet.Conditions {
			if c == tag {
				return "", nil
			}
		}
		sheet.Conditions = append(sheet.Conditions, tag)
		return fmt.Sprintf("(%s is now %s)", agentID, tag), nil

	case field == "conditions.remove":
		tag, err := stringArg(input, "value")
		if err != nil {
			return "", err
		}
		for i, c := range sheet.Conditions {
			if c == tag {
				sheet.Conditions = append(sheet.Conditions[:i], sheet.Conditions[i+1:]...)
				return fmt.Sprintf("(%s is no longer %s)", agentID, tag), nil
			}
		}
		return "", fmt.Errorf("participant %q has no condition %q", agentID, tag)

	case field == "facts.add":
		fact, err := stringArg(input, "value")
		if err != nil {
			return "", err
		}
		sheet.Facts = append(sheet.Facts, fact)
		return "", nil

	default:
		return "", fmt.Errorf("bad sheet field %q, want hp, max_hp, resources.<name>, conditions.add, conditions.remove, or facts.add", field)
	}
}

func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

// intArg accepts JSON numbers (float64 after decoding) and native ints.
func intArg(input map[string]any, key string) (int, error) {
	v, ok := input[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}
