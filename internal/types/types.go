// Package types holds the shared data model for a storyweave session:
// the append-only shared log, per-agent memory, character sheets, whispers,
// and the narrative element index records. Everything here is plain data;
// behavior lives in the packages that own each structure.
package types

import (
	"time"
)

// Role identifies which side of the table an agent sits on.
type Role string

const (
	RoleDirector    Role = "director"
	RoleParticipant Role = "participant"
)

// LogEntry is one attributed entry in the shared log. The shared log is
// append-only: entries are never mutated or reordered after being written.
type LogEntry struct {
	Turn      int       `json:"turn"`
	SpeakerID string    `json:"speaker_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMemory is the bounded private memory of a single agent: a running
// long-term summary plus the uncompressed tail of recent entries. The buffer
// only grows until the compressor trims it back to the retained tail.
type AgentMemory struct {
	AgentID         string     `json:"agent_id"`
	LongTermSummary string     `json:"long_term_summary"`
	ShortTermBuffer []LogEntry `json:"short_term_buffer"`
	TokenLimit      int        `json:"token_limit"`
}

// CharacterSheet is the mutable structured state of one participant's
// in-world actor. Owned by the director role; readable by its own
// participant, and by the director for every participant.
//
// Conditions are director-managed tags. They are never cleared
// automatically: a "unconscious" tag survives a heal until the director
// removes it.
type CharacterSheet struct {
	AgentID    string         `json:"agent_id"`
	Name       string         `json:"name"`
	HP         int            `json:"hp"`
	MaxHP      int            `json:"max_hp"`
	Resources  map[string]int `json:"resources,omitempty"`
	Conditions []string       `json:"conditions,omitempty"`
	Facts      []string       `json:"facts,omitempty"`
}

// Clone returns a deep copy of the sheet.
func (cs CharacterSheet) Clone() CharacterSheet {
	out := cs
	if cs.Resources != nil {
		out.Resources = make(map[string]int, len(cs.Resources))
		for k, v := range cs.Resources {
			out.Resources[k] = v
		}
	}
	out.Conditions = append([]string(nil), cs.Conditions...)
	out.Facts = append([]string(nil), cs.Facts...)
	return out
}

// Whisper is a private note from the director to one participant. Written
// only by the director; the owning participant always sees its own whispers.
type Whisper struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	TurnCreated  int    `json:"turn_created"`
	Revealed     bool   `json:"revealed"`
	TurnRevealed int    `json:"turn_revealed,omitempty"`
}

// ElementType is the closed set of narrative element kinds.
type ElementType string

const (
	ElementPerson    ElementType = "person"
	ElementLocation  ElementType = "location"
	ElementItem      ElementType = "item"
	ElementPlotEvent ElementType = "plotEvent"
	ElementPromise   ElementType = "promise"
	ElementThreat    ElementType = "threat"
)

// ValidElementType reports whether t is one of the closed set.
func ValidElementType(t ElementType) bool {
	switch t {
	case ElementPerson, ElementLocation, ElementItem, ElementPlotEvent, ElementPromise, ElementThreat:
		return true
	}
	return false
}

// NarrativeElement is a tracked story thread: a person, place, item, event,
// promise, or threat introduced in play. Elements are never deleted; the
// reference counters and dormancy flags are updated on every scan.
type NarrativeElement struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Type               ElementType `json:"type"`
	Description        string      `json:"description"`
	TurnIntroduced     int         `json:"turn_introduced"`
	LastReferencedTurn int         `json:"last_referenced_turn"`
	TimesReferenced    int         `json:"times_referenced"`
	DormancyTurns      int         `json:"dormancy_turns"`
	Dormant            bool        `json:"dormant"`
	Resolved           bool        `json:"resolved"`
	PotentialCallbacks []string    `json:"potential_callbacks,omitempty"`
}

// MatchType records how a callback was detected.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchFuzzy   MatchType = "fuzzy"
	MatchKeyword MatchType = "keyword"
)

// CallbackEntry records one detected reference to a known element.
// IsStoryMoment marks revivals of long-dormant threads; a reference to a
// just-mentioned element is routine continuity, not a callback.
type CallbackEntry struct {
	ID            string    `json:"id"`
	ElementID     string    `json:"element_id"`
	ElementName   string    `json:"element_name"`
	TurnDetected  int       `json:"turn_detected"`
	MatchType     MatchType `json:"match_type"`
	MatchContext  string    `json:"match_context"`
	IsStoryMoment bool      `json:"is_story_moment"`
	TurnGap       int       `json:"turn_gap"`
}

// SessionState is the aggregate root for one session. It is owned
// exclusively by the orchestrator that runs the session; other components
// only ever see projections or snapshots of it.
type SessionState struct {
	SchemaVersion int    `json:"schema_version"`
	SessionID     string `json:"session_id"`
	CampaignID    string `json:"campaign_id"`

	SharedLog []LogEntry                 `json:"shared_log"`
	Memories  map[string]*AgentMemory    `json:"memories"`
	Sheets    map[string]*CharacterSheet `json:"sheets"`
	Secrets   map[string][]Whisper       `json:"secrets"`

	SessionElements  []NarrativeElement `json:"session_elements"`
	CampaignElements []NarrativeElement `json:"campaign_elements"`
	Callbacks        []CallbackEntry    `json:"callbacks"`

	DirectorID string   `json:"director_id"`
	TurnOrder  []string `json:"turn_order"`
	Round      int      `json:"round"`
	Turn       int      `json:"turn"`

	HumanActive bool   `json:"human_active"`
	HumanSlot   string `json:"human_slot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentSchemaVersion is written into every new checkpoint. Load backfills
// documented defaults for checkpoints written by older schemas.
const CurrentSchemaVersion = 2
