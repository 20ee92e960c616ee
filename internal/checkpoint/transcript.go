package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"storyweave/internal/types"
)

// TranscriptEntry is one line of the exported table transcript.
type TranscriptEntry struct {
	Turn    int    `json:"turn"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcript maintains the append-only JSON transcript derived from the
// shared log, written alongside the checkpoints. The file always holds a
// complete JSON list; each append rewrites it atomically.
type Transcript struct {
	mu   sync.Mutex
	path string
}

// NewTranscript creates a transcript writer in the session's checkpoint
// directory.
func NewTranscript(store *Store) *Transcript {
	return &Transcript{path: filepath.Join(store.dir(), "transcript.json")}
}

// Append adds shared-log entries to the transcript.
func (t *Transcript) Append(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.read()
	if err != nil {
		return err
	}
	for _, e := range entries {
		existing = append(existing, TranscriptEntry{Turn: e.Turn, Speaker: e.SpeakerID, Text: e.Text})
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

// Entries returns the current transcript contents.
func (t *Transcript) Entries() ([]TranscriptEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

func (t *Transcript) read() ([]TranscriptEntry, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var out []TranscriptEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return out, nil
}
