// Package session owns the turn orchestration for one narrative session:
// the aggregate session state, the round state machine, and the director's
// tool handling. SessionState is owned exclusively by the orchestrator;
// everything else sees projections or snapshots.
package session

import (
	"time"

	"github.com/google/uuid"

	"storyweave/internal/prompt"
	"storyweave/internal/types"
)

// NewState constructs a fresh session aggregate. The director is not part
// of turnOrder; participants act in the given order every round.
func NewState(campaignID, directorID string, turnOrder []string, sheets map[string]*types.CharacterSheet) *types.SessionState {
	now := time.Now().UTC()
	st := &types.SessionState{
		SchemaVersion:    types.CurrentSchemaVersion,
		SessionID:        uuid.NewString(),
		CampaignID:       campaignID,
		SharedLog:        []types.LogEntry{},
		Memories:         make(map[string]*types.AgentMemory),
		Sheets:           make(map[string]*types.CharacterSheet),
		Secrets:          make(map[string][]types.Whisper),
		SessionElements:  []types.NarrativeElement{},
		CampaignElements: []types.NarrativeElement{},
		Callbacks:        []types.CallbackEntry{},
		DirectorID:       directorID,
		TurnOrder:        append([]string(nil), turnOrder...),
		Round:            1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for id, sheet := range sheets {
		cp := sheet.Clone()
		st.Sheets[id] = &cp
	}
	return st
}

// appendShared adds an entry to the shared log. The log is append-only;
// nothing else may touch it.
func appendShared(st *types.SessionState, speakerID, text string) types.LogEntry {
	entry := types.LogEntry{
		Turn:      st.Turn,
		SpeakerID: speakerID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	st.SharedLog = append(st.SharedLog, entry)
	st.UpdatedAt = entry.Timestamp
	return entry
}

// sceneWindow returns the trailing n entries of the shared log.
func sceneWindow(st *types.SessionState, n int) []types.LogEntry {
	if n <= 0 || len(st.SharedLog) == 0 {
		return nil
	}
	if len(st.SharedLog) <= n {
		return append([]types.LogEntry(nil), st.SharedLog...)
	}
	return append([]types.LogEntry(nil), st.SharedLog[len(st.SharedLog)-n:]...)
}

// cloneState deep-copies the aggregate so a snapshot can be serialized or
// inspected while the orchestrator keeps mutating the original.
func cloneState(st *types.SessionState) *types.SessionState {
	out := *st
	out.SharedLog = append([]types.LogEntry(nil), st.SharedLog...)
	out.TurnOrder = append([]string(nil), st.TurnOrder...)
	out.SessionElements = append([]types.NarrativeElement(nil), st.SessionElements...)
	out.CampaignElements = append([]types.NarrativeElement(nil), st.CampaignElements...)
	out.Callbacks = append([]types.CallbackEntry(nil), st.Callbacks...)

	out.Memories = make(map[string]*types.AgentMemory, len(st.Memories))
	for id, m := range st.Memories {
		cp := *m
		cp.ShortTermBuffer = append([]types.LogEntry(nil), m.ShortTermBuffer...)
		out.Memories[id] = &cp
	}
	out.Sheets = make(map[string]*types.CharacterSheet, len(st.Sheets))
	for id, s := range st.Sheets {
		cp := s.Clone()
		out.Sheets[id] = &cp
	}
	out.Secrets = make(map[string][]types.Whisper, len(st.Secrets))
	for id, ws := range st.Secrets {
		out.Secrets[id] = append([]types.Whisper(nil), ws...)
	}
	return &out
}

// participantView projects exactly the state one participant may see.
// This is the isolation boundary: the returned view has no fields that
// could carry another agent's memory, sheet, or secrets.
func participantView(st *types.SessionState, mem types.AgentMemory, agentID string, window int) prompt.ParticipantView {
	v := prompt.ParticipantView{
		AgentID:    agentID,
		TurnNumber: st.Turn,
		SceneLog:   sceneWindow(st, window),
		Memory:     mem,
	}
	if sheet, ok := st.Sheets[agentID]; ok {
		cp := sheet.Clone()
		v.Sheet = &cp
	}
	v.Whispers = append(v.Whispers, st.Secrets[agentID]...)
	return v
}

// directorView projects the asymmetric full-access view.
func directorView(st *types.SessionState, mem types.AgentMemory, buffers map[string][]types.LogEntry,
	suggestions []types.NarrativeElement, humanNote string, window int) prompt.DirectorView {

	v := prompt.DirectorView{
		AgentID:             st.DirectorID,
		TurnNumber:          st.Turn,
		SceneLog:            sceneWindow(st, window),
		Memory:              mem,
		PartySheets:         make(map[string]types.CharacterSheet, len(st.Sheets)),
		PartyBuffers:        buffers,
		AllWhispers:         make(map[string][]types.Whisper, len(st.Secrets)),
		CallbackSuggestions: suggestions,
		HumanNote:           humanNote,
	}
	for id, sheet := range st.Sheets {
		v.PartySheets[id] = sheet.Clone()
	}
	for id, ws := range st.Secrets {
		v.AllWhispers[id] = append([]types.Whisper(nil), ws...)
	}
	return v
}
