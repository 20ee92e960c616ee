package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"storyweave/internal/types"
)

func fullState(turn int) *types.SessionState {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return &types.SessionState{
		SchemaVersion: types.CurrentSchemaVersion,
		SessionID:     "s1",
		CampaignID:    "camp-1",
		SharedLog: []types.LogEntry{
			{Turn: 1, SpeakerID: "director", Text: "The keep looms ahead.", Timestamp: now},
		},
		Memories: map[string]*types.AgentMemory{
			"elara": {AgentID: "elara", LongTermSummary: "crossed the marsh", TokenLimit: 4000,
				ShortTermBuffer: []types.LogEntry{{Turn: 1, SpeakerID: "elara", Text: "I scout ahead.", Timestamp: now}}},
		},
		Sheets: map[string]*types.CharacterSheet{
			"elara": {AgentID: "elara", Name: "Elara", HP: 7, MaxHP: 12,
				Resources: map[string]int{"arrows": 9}, Conditions: []string{"poisoned"}},
		},
		Secrets: map[string][]types.Whisper{
			"elara": {{ID: "w1", Content: "the guard knows you", TurnCreated: 1}},
		},
		SessionElements: []types.NarrativeElement{
			{ID: "e1", Name: "Rusted Key", Type: types.ElementItem, TurnIntroduced: 1, LastReferencedTurn: 1, TimesReferenced: 1},
		},
		CampaignElements: []types.NarrativeElement{},
		Callbacks:        []types.CallbackEntry{},
		DirectorID:       "director",
		TurnOrder:        []string{"elara"},
		Round:            1,
		Turn:             turn,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), "s1")
	require.NoError(t, err)

	want := fullState(3)
	require.NoError(t, store.Save(want))

	got, err := store.Load(3)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Missing(t *testing.T) {
	store, err := NewStore(t.TempDir(), "s1")
	require.NoError(t, err)

	_, err = store.Load(7)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

// TestLoad_LegacyDefaults writes a minimal old-schema document by hand and
// verifies absent fields come back as documented defaults instead of
// failing or returning nils.
func TestLoad_LegacyDefaults(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, "s1")
	require.NoError(t, err)

	legacy := map[string]any{
		"session_id": "s1",
		"shared_log": []map[string]any{
			{"turn": 1, "speaker_id": "director", "text": "old world"},
		},
		"turn":  1,
		"round": 1,
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "session_s1", "turn_0001.json"), data, 0o644))

	got, err := store.Load(1)
	require.NoError(t, err)
	require.Equal(t, types.CurrentSchemaVersion, got.SchemaVersion)
	require.NotNil(t, got.Memories)
	require.NotNil(t, got.Sheets)
	require.NotNil(t, got.Secrets)
	require.NotNil(t, got.CampaignElements)
	require.NotNil(t, got.Callbacks)
	require.False(t, got.HumanActive)
	require.Len(t, got.SharedLog, 1)
}

// TestSave_AtomicUnderPartialWrite simulates a crash mid-write: a stray
// partial temp file must never disturb the canonical checkpoint, and the
// canonical file is always complete JSON.
func TestSave_AtomicUnderPartialWrite(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Save(fullState(2)))

	// A crashed writer leaves truncated garbage behind under the temp name.
	partial := filepath.Join(root, "session_s1", "turn_9999.json.tmp")
	require.NoError(t, os.WriteFile(partial, []byte(`{"session_id": "s1", "shared`), 0o644))

	// The canonical checkpoint is untouched and parses completely.
	got, err := store.Load(2)
	require.NoError(t, err)
	require.Equal(t, "s1", got.SessionID)

	// The stray temp file is invisible to turn enumeration.
	latest, err := store.Latest()
	require.NoError(t, err)
	require.Equal(t, 2, latest)
}

func TestRestore_DiscardsLaterTurns(t *testing.T) {
	store, err := NewStore(t.TempDir(), "s1")
	require.NoError(t, err)

	for turn := 1; turn <= 5; turn++ {
		require.NoError(t, store.Save(fullState(turn)))
	}

	got, err := store.Restore(3)
	require.NoError(t, err)
	require.Equal(t, 3, got.Turn)

	latest, err := store.Latest()
	require.NoError(t, err)
	require.Equal(t, 3, latest)

	_, err = store.Load(4)
	require.True(t, errors.Is(err, ErrNoCheckpoint))
}

func TestLatest_Empty(t *testing.T) {
	store, err := NewStore(t.TempDir(), "s1")
	require.NoError(t, err)
	_, err = store.Latest()
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestTranscript_AppendAcrossRounds(t *testing.T) {
	store, err := NewStore(t.TempDir(), "s1")
	require.NoError(t, err)
	tr := NewTranscript(store)

	require.NoError(t, tr.Append([]types.LogEntry{
		{Turn: 1, SpeakerID: "director", Text: "The keep looms ahead."},
	}))
	require.NoError(t, tr.Append([]types.LogEntry{
		{Turn: 2, SpeakerID: "elara", Text: "I scout ahead."},
	}))

	got, err := tr.Entries()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "director", got[0].Speaker)
	require.Equal(t, 2, got[1].Turn)
}
