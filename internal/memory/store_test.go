package memory

import (
	"strings"
	"testing"
	"time"

	"storyweave/internal/types"
)

// entryOfTokens builds a log entry whose estimate is roughly n tokens
// (plus the fixed attribution overhead).
func entryOfTokens(n int) types.LogEntry {
	return types.LogEntry{
		SpeakerID: "elara",
		Text:      strings.Repeat("word", n), // 4 runes per token
		Timestamp: time.Now(),
	}
}

func TestCharEstimator(t *testing.T) {
	if got := CharEstimator(""); got != 0 {
		t.Errorf("empty string should estimate 0 tokens, got %d", got)
	}
	if got := CharEstimator("ab"); got != 1 {
		t.Errorf("short non-empty string should estimate at least 1 token, got %d", got)
	}
	short := CharEstimator("the rusted key")
	long := CharEstimator("the rusted key opens the northern gate")
	if long <= short {
		t.Errorf("estimate must be monotonic in length: %d <= %d", long, short)
	}
}

func TestIsNearLimit_Threshold(t *testing.T) {
	s := NewStore(CharEstimator, 0.80)
	s.Register("a", 1000)

	// Each entry is ~104 tokens (100 text + 4 overhead). Seven entries sit
	// at 728, under the 800 threshold; the eighth crosses it.
	for i := 0; i < 7; i++ {
		if err := s.Append("a", entryOfTokens(100)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if s.IsNearLimit("a") {
		t.Fatalf("should not be near limit at %d tokens", s.BufferTokens("a"))
	}

	if err := s.Append("a", entryOfTokens(100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !s.IsNearLimit("a") {
		t.Fatalf("should be near limit at %d tokens", s.BufferTokens("a"))
	}
}

func TestIsNearLimit_UnknownAgent(t *testing.T) {
	s := NewStore(nil, 0)
	if s.IsNearLimit("ghost") {
		t.Error("unknown agent must never be near limit")
	}
}

func TestAppend_UnknownAgent(t *testing.T) {
	s := NewStore(nil, 0)
	if err := s.Append("ghost", entryOfTokens(1)); err == nil {
		t.Error("append to unregistered agent should fail")
	}
}

func TestSnapshot_Isolation(t *testing.T) {
	s := NewStore(nil, 0)
	s.Register("a", 1000)
	s.Append("a", types.LogEntry{SpeakerID: "a", Text: "original"})

	snap, ok := s.Snapshot("a")
	if !ok {
		t.Fatal("snapshot missing")
	}
	snap.ShortTermBuffer[0].Text = "mutated"
	snap.LongTermSummary = "mutated"

	again, _ := s.Snapshot("a")
	if again.ShortTermBuffer[0].Text != "original" {
		t.Error("mutating a snapshot leaked into the store")
	}
	if again.LongTermSummary != "" {
		t.Error("mutating a snapshot summary leaked into the store")
	}
}

func TestExportLoad_RoundTrip(t *testing.T) {
	s := NewStore(nil, 0)
	s.Register("a", 500)
	s.Append("a", entryOfTokens(10))

	out := s.Export()

	s2 := NewStore(nil, 0)
	s2.Load(out)
	snap, ok := s2.Snapshot("a")
	if !ok {
		t.Fatal("agent lost across export/load")
	}
	if snap.TokenLimit != 500 || len(snap.ShortTermBuffer) != 1 {
		t.Errorf("unexpected restored memory: %+v", snap)
	}

	// Mutating the exported map must not touch the source store.
	out["a"].ShortTermBuffer[0].Text = "mutated"
	orig, _ := s.Snapshot("a")
	if orig.ShortTermBuffer[0].Text == "mutated" {
		t.Error("export is not a deep copy")
	}
}
