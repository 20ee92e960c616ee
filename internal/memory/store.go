// Package memory implements the per-agent bounded memory: a short-term
// buffer of raw entries plus a running long-term summary, with
// token-budget-triggered compression.
package memory

import (
	"fmt"
	"sync"

	"storyweave/internal/types"
)

// Store holds every agent's bounded memory for one session. Buffers only
// grow until the compressor trims them back to the retained tail; the store
// itself never truncates.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]*types.AgentMemory
	estimate Estimator

	// nearLimitFraction of TokenLimit at which IsNearLimit trips.
	nearLimitFraction float64
}

// NewStore creates an empty memory store. A nil estimator falls back to
// CharEstimator; a non-positive fraction falls back to 0.80.
func NewStore(est Estimator, nearLimitFraction float64) *Store {
	if est == nil {
		est = CharEstimator
	}
	if nearLimitFraction <= 0 || nearLimitFraction >= 1 {
		nearLimitFraction = 0.80
	}
	return &Store{
		agents:            make(map[string]*types.AgentMemory),
		estimate:          est,
		nearLimitFraction: nearLimitFraction,
	}
}

// Register creates the memory slot for an agent. Registering an existing
// agent only updates its token limit.
func (s *Store) Register(agentID string, tokenLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.agents[agentID]; ok {
		m.TokenLimit = tokenLimit
		return
	}
	s.agents[agentID] = &types.AgentMemory{
		AgentID:    agentID,
		TokenLimit: tokenLimit,
	}
}

// Append adds an entry to the tail of the agent's buffer.
func (s *Store) Append(agentID string, entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	m.ShortTermBuffer = append(m.ShortTermBuffer, entry)
	return nil
}

// IsNearLimit reports whether the agent's buffer token estimate exceeds
// the configured fraction of its token limit. Unknown agents are never
// near-limit.
func (s *Store) IsNearLimit(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.agents[agentID]
	if !ok || m.TokenLimit <= 0 {
		return false
	}
	used := EstimateEntries(s.estimate, m.ShortTermBuffer)
	return float64(used) > s.nearLimitFraction*float64(m.TokenLimit)
}

// BufferTokens returns the current buffer token estimate.
func (s *Store) BufferTokens(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.agents[agentID]
	if !ok {
		return 0
	}
	return EstimateEntries(s.estimate, m.ShortTermBuffer)
}

// Snapshot returns a read-only deep copy of the agent's memory for context
// assembly. Mutating the copy does not affect the store.
func (s *Store) Snapshot(agentID string) (types.AgentMemory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.agents[agentID]
	if !ok {
		return types.AgentMemory{}, false
	}
	out := *m
	out.ShortTermBuffer = append([]types.LogEntry(nil), m.ShortTermBuffer...)
	return out, true
}

// AgentIDs lists registered agents in unspecified order.
func (s *Store) AgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// replace installs a new summary and retained buffer tail. Only the
// compressor calls this.
func (s *Store) replace(agentID, summary string, retained []types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	m.LongTermSummary = summary
	m.ShortTermBuffer = append([]types.LogEntry(nil), retained...)
	return nil
}

// Export returns a deep copy of every agent memory, for checkpointing.
func (s *Store) Export() map[string]*types.AgentMemory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.AgentMemory, len(s.agents))
	for id, m := range s.agents {
		cp := *m
		cp.ShortTermBuffer = append([]types.LogEntry(nil), m.ShortTermBuffer...)
		out[id] = &cp
	}
	return out
}

// Load replaces the store contents from a checkpoint snapshot.
func (s *Store) Load(mems map[string]*types.AgentMemory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[string]*types.AgentMemory, len(mems))
	for id, m := range mems {
		cp := *m
		cp.ShortTermBuffer = append([]types.LogEntry(nil), m.ShortTermBuffer...)
		s.agents[id] = &cp
	}
}
