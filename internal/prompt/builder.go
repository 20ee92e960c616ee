// Package prompt assembles the per-agent context block handed to the
// model provider. Isolation is structural: the participant builder accepts
// a ParticipantView that physically contains nothing but the participant's
// own state, so no code path can leak another agent's memory, sheet, or
// secrets into a participant prompt.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"storyweave/internal/types"
)

// ParticipantView is the complete set of state a participant is allowed
// to see: the shared scene, its own memory, its own sheet, its own
// whispers. Nothing else fits through this type.
type ParticipantView struct {
	AgentID    string
	TurnNumber int
	SceneLog   []types.LogEntry
	Memory     types.AgentMemory
	Sheet      *types.CharacterSheet
	Whispers   []types.Whisper
}

// DirectorView is the asymmetric full-access projection: every
// participant's facts, sheets, and buffers (labeled per agent so the
// director can broker information), every whisper ever issued, plus
// callback suggestions and any pending human note.
type DirectorView struct {
	AgentID    string
	TurnNumber int
	SceneLog   []types.LogEntry
	Memory     types.AgentMemory

	PartySheets  map[string]types.CharacterSheet
	PartyBuffers map[string][]types.LogEntry
	AllWhispers  map[string][]types.Whisper

	CallbackSuggestions []types.NarrativeElement
	HumanNote           string
}

// Context is the assembled value object consumed by the provider call.
// Pure data; no side effects were involved in building it.
type Context struct {
	Role       types.Role
	AgentID    string
	TurnNumber int
	Text       string
}

// BuildParticipantContext assembles the strict-isolation participant
// context from its view.
func BuildParticipantContext(v ParticipantView) *Context {
	var sb strings.Builder

	writeScene(&sb, v.SceneLog)
	writeMemory(&sb, v.Memory)

	if v.Sheet != nil {
		sb.WriteString("## Your Character\n")
		writeSheet(&sb, *v.Sheet)
		sb.WriteString("\n")
	}

	if len(v.Whispers) > 0 {
		sb.WriteString("## Private Notes From The Director\n")
		for _, w := range v.Whispers {
			marker := ""
			if w.Revealed {
				marker = " (now public)"
			}
			fmt.Fprintf(&sb, "- [turn %d]%s %s\n", w.TurnCreated, marker, w.Content)
		}
		sb.WriteString("\n")
	}

	return &Context{
		Role:       types.RoleParticipant,
		AgentID:    v.AgentID,
		TurnNumber: v.TurnNumber,
		Text:       sb.String(),
	}
}

// BuildDirectorContext assembles the director's asymmetric context.
func BuildDirectorContext(v DirectorView) *Context {
	var sb strings.Builder

	writeScene(&sb, v.SceneLog)
	writeMemory(&sb, v.Memory)

	for _, id := range sortedKeys(v.PartySheets) {
		sheet := v.PartySheets[id]
		fmt.Fprintf(&sb, "## Participant: %s\n", id)
		writeSheet(&sb, sheet)
		if buf := v.PartyBuffers[id]; len(buf) > 0 {
			sb.WriteString("Recent private memory:\n")
			for _, e := range buf {
				fmt.Fprintf(&sb, "  [%d] %s\n", e.Turn, e.Text)
			}
		}
		if ws := v.AllWhispers[id]; len(ws) > 0 {
			sb.WriteString("Whispers issued:\n")
			for _, w := range ws {
				state := "secret"
				if w.Revealed {
					state = fmt.Sprintf("revealed turn %d", w.TurnRevealed)
				}
				fmt.Fprintf(&sb, "  - [turn %d, %s] %s\n", w.TurnCreated, state, w.Content)
			}
		}
		sb.WriteString("\n")
	}

	if len(v.CallbackSuggestions) > 0 {
		sb.WriteString("## Dormant Threads Worth Reviving\n")
		for _, el := range v.CallbackSuggestions {
			fmt.Fprintf(&sb, "- %s (%s, last seen turn %d, dormant %d turns): %s\n",
				el.Name, el.Type, el.LastReferencedTurn, el.DormancyTurns, el.Description)
		}
		sb.WriteString("\n")
	}

	if v.HumanNote != "" {
		sb.WriteString("## Note From The Table\n")
		sb.WriteString(v.HumanNote)
		sb.WriteString("\n\n")
	}

	return &Context{
		Role:       types.RoleDirector,
		AgentID:    v.AgentID,
		TurnNumber: v.TurnNumber,
		Text:       sb.String(),
	}
}

func writeScene(sb *strings.Builder, scene []types.LogEntry) {
	if len(scene) == 0 {
		return
	}
	sb.WriteString("## Scene\n")
	for _, e := range scene {
		fmt.Fprintf(sb, "[%d] %s: %s\n", e.Turn, e.SpeakerID, e.Text)
	}
	sb.WriteString("\n")
}

func writeMemory(sb *strings.Builder, m types.AgentMemory) {
	if m.LongTermSummary != "" {
		sb.WriteString("## What You Remember\n")
		sb.WriteString(m.LongTermSummary)
		sb.WriteString("\n\n")
	}
	if len(m.ShortTermBuffer) > 0 {
		sb.WriteString("## Recently\n")
		for _, e := range m.ShortTermBuffer {
			fmt.Fprintf(sb, "[%d] %s: %s\n", e.Turn, e.SpeakerID, e.Text)
		}
		sb.WriteString("\n")
	}
}

func writeSheet(sb *strings.Builder, s types.CharacterSheet) {
	fmt.Fprintf(sb, "%s, HP %d/%d\n", s.Name, s.HP, s.MaxHP)
	for _, k := range sortedKeys(s.Resources) {
		fmt.Fprintf(sb, "  %s: %d\n", k, s.Resources[k])
	}
	if len(s.Conditions) > 0 {
		fmt.Fprintf(sb, "  conditions: %s\n", strings.Join(s.Conditions, ", "))
	}
	for _, f := range s.Facts {
		fmt.Fprintf(sb, "  fact: %s\n", f)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
