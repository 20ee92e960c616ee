package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyweave/internal/types"
)

func TestBuildParticipantContext_Content(t *testing.T) {
	v := ParticipantView{
		AgentID:    "elara",
		TurnNumber: 12,
		SceneLog: []types.LogEntry{
			{Turn: 11, SpeakerID: "director", Text: "The gate creaks open."},
		},
		Memory: types.AgentMemory{
			AgentID:         "elara",
			LongTermSummary: "You crossed the marsh and bargained with the ferryman.",
			ShortTermBuffer: []types.LogEntry{{Turn: 11, SpeakerID: "elara", Text: "I draw my blade."}},
		},
		Sheet: &types.CharacterSheet{
			AgentID: "elara", Name: "Elara", HP: 7, MaxHP: 12,
			Conditions: []string{"poisoned"},
			Facts:      []string{"owes the ferryman a favor"},
		},
		Whispers: []types.Whisper{
			{ID: "w1", Content: "The guard recognizes you.", TurnCreated: 10},
		},
	}

	ctx := BuildParticipantContext(v)
	require.Equal(t, types.RoleParticipant, ctx.Role)
	assert.Contains(t, ctx.Text, "The gate creaks open.")
	assert.Contains(t, ctx.Text, "bargained with the ferryman")
	assert.Contains(t, ctx.Text, "HP 7/12")
	assert.Contains(t, ctx.Text, "poisoned")
	assert.Contains(t, ctx.Text, "The guard recognizes you.")
}

func TestBuildDirectorContext_FullAccess(t *testing.T) {
	v := DirectorView{
		AgentID:    "director",
		TurnNumber: 12,
		Memory:     types.AgentMemory{AgentID: "director", LongTermSummary: "The party entered the keep."},
		PartySheets: map[string]types.CharacterSheet{
			"elara": {Name: "Elara", HP: 7, MaxHP: 12},
			"bren":  {Name: "Bren", HP: 3, MaxHP: 10, Conditions: []string{"unconscious"}},
		},
		PartyBuffers: map[string][]types.LogEntry{
			"elara": {{Turn: 11, SpeakerID: "elara", Text: "I draw my blade."}},
			"bren":  {{Turn: 11, SpeakerID: "bren", Text: "I slump against the wall."}},
		},
		AllWhispers: map[string][]types.Whisper{
			"elara": {{ID: "w1", Content: "The guard recognizes you.", TurnCreated: 10}},
		},
		CallbackSuggestions: []types.NarrativeElement{
			{Name: "Silver Locket", Type: types.ElementItem, LastReferencedTurn: 2, DormancyTurns: 10,
				Description: "a keepsake from the drowned village"},
		},
		HumanNote: "Please give Bren a chance to shine.",
	}

	ctx := BuildDirectorContext(v)
	require.Equal(t, types.RoleDirector, ctx.Role)
	assert.Contains(t, ctx.Text, "Participant: elara")
	assert.Contains(t, ctx.Text, "Participant: bren")
	assert.Contains(t, ctx.Text, "I slump against the wall.")
	assert.Contains(t, ctx.Text, "The guard recognizes you.")
	assert.Contains(t, ctx.Text, "Silver Locket")
	assert.Contains(t, ctx.Text, "chance to shine")
	// Director sees stale condition tags exactly as the sheet carries them.
	assert.Contains(t, ctx.Text, "unconscious")
}

// TestParticipantIsolation verifies the central invariant from the view
// side: a context built from one participant's view can never contain
// another participant's private material, because the view cannot carry it.
func TestParticipantIsolation(t *testing.T) {
	secretB := []string{
		"bren-private-memory",
		"bren-secret-whisper",
		"bren-sheet-fact",
	}

	v := ParticipantView{
		AgentID: "elara",
		Memory:  types.AgentMemory{AgentID: "elara", LongTermSummary: "own summary"},
		Sheet:   &types.CharacterSheet{Name: "Elara"},
		Whispers: []types.Whisper{
			{Content: "elara-own-whisper"},
		},
	}
	ctx := BuildParticipantContext(v)

	for _, s := range secretB {
		if strings.Contains(ctx.Text, s) {
			t.Errorf("participant context leaked %q", s)
		}
	}
	assert.Contains(t, ctx.Text, "elara-own-whisper")
}

func TestBuildParticipantContext_EmptyView(t *testing.T) {
	ctx := BuildParticipantContext(ParticipantView{AgentID: "elara"})
	require.NotNil(t, ctx)
	assert.Empty(t, strings.TrimSpace(ctx.Text))
}
