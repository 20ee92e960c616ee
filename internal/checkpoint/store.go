// Package checkpoint persists complete session snapshots, one JSON
// document per turn, written atomically so a checkpoint is either whole or
// absent, never partial, even under a crash mid-write.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"storyweave/internal/logging"
	"storyweave/internal/types"
)

// ErrNoCheckpoint is returned when no checkpoint exists for the requested
// turn (or at all, for Latest).
var ErrNoCheckpoint = errors.New("no checkpoint found")

var turnFilePattern = regexp.MustCompile(`^turn_(\d{4,})\.json$`)

// Store writes and reads checkpoints for one session under
// <root>/session_<id>/turn_<NNNN>.json.
type Store struct {
	root      string
	sessionID string
}

// NewStore creates the checkpoint directory for a session.
func NewStore(root, sessionID string) (*Store, error) {
	s := &Store{root: root, sessionID: sessionID}
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return s, nil
}

func (s *Store) dir() string {
	return filepath.Join(s.root, "session_"+s.sessionID)
}

func (s *Store) path(turn int) string {
	return filepath.Join(s.dir(), fmt.Sprintf("turn_%04d.json", turn))
}

// Save serializes the state to a temporary file in the session directory
// and renames it onto the canonical per-turn filename. The rename is the
// commit point.
func (s *Store) Save(state *types.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir(), "turn_*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(state.Turn)); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	logging.For(logging.CategoryCheckpoint).Debugw("checkpoint saved",
		"session", s.sessionID, "turn", state.Turn, "bytes", len(data))
	return nil
}

// Load reads the checkpoint for a turn, backfilling documented defaults
// for fields absent from older schemas rather than failing.
func (s *Store) Load(turn int) (*types.SessionState, error) {
	data, err := os.ReadFile(s.path(turn))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("turn %d: %w", turn, ErrNoCheckpoint)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint turn %d: %w", turn, err)
	}
	applyDefaults(&state)
	return &state, nil
}

// Latest returns the highest checkpointed turn number.
func (s *Store) Latest() (int, error) {
	turns, err := s.turns()
	if err != nil {
		return 0, err
	}
	if len(turns) == 0 {
		return 0, ErrNoCheckpoint
	}
	return turns[len(turns)-1], nil
}

// Restore loads the checkpoint for a turn and discards every later
// checkpoint, rewinding the session for branching or undo.
func (s *Store) Restore(turn int) (*types.SessionState, error) {
	state, err := s.Load(turn)
	if err != nil {
		return nil, err
	}
	turns, err := s.turns()
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		if t <= turn {
			continue
		}
		if err := os.Remove(s.path(t)); err != nil {
			return nil, fmt.Errorf("discard checkpoint turn %d: %w", t, err)
		}
	}
	logging.For(logging.CategoryCheckpoint).Infow("session rewound",
		"session", s.sessionID, "turn", turn)
	return state, nil
}

// turns lists checkpointed turn numbers in ascending order. Stray temp
// files and unrelated names are ignored.
func (s *Store) turns() ([]int, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var turns []int
	for _, e := range entries {
		m := turnFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		turns = append(turns, n)
	}
	sort.Ints(turns)
	return turns, nil
}

// applyDefaults backfills fields that older checkpoint schemas did not
// carry. Documented defaults:
//   - schema 1 had no campaign element set or callback log: empty.
//   - schema 1 had no human takeover fields: inactive.
//   - maps may be absent entirely: empty maps, so callers never nil-check.
func applyDefaults(state *types.SessionState) {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = 1
	}
	if state.Memories == nil {
		state.Memories = make(map[string]*types.AgentMemory)
	}
	if state.Sheets == nil {
		state.Sheets = make(map[string]*types.CharacterSheet)
	}
	if state.Secrets == nil {
		state.Secrets = make(map[string][]types.Whisper)
	}
	if state.CampaignElements == nil {
		state.CampaignElements = []types.NarrativeElement{}
	}
	if state.Callbacks == nil {
		state.Callbacks = []types.CallbackEntry{}
	}
	if state.SessionElements == nil {
		state.SessionElements = []types.NarrativeElement{}
	}
	if state.SharedLog == nil {
		state.SharedLog = []types.LogEntry{}
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Unix(0, 0).UTC()
	}
	state.SchemaVersion = types.CurrentSchemaVersion
}
