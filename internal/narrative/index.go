package narrative

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storyweave/internal/logging"
	"storyweave/internal/types"
)

// IndexConfig tunes callback detection and dormancy.
type IndexConfig struct {
	// DormancyThreshold is the turn gap after which an element is dormant.
	DormancyThreshold int

	// StoryMomentGap is the turn gap above which a callback counts as a
	// story moment.
	StoryMomentGap int

	// FuzzyDistance is the per-token edit distance allowed in fuzzy
	// name matching.
	FuzzyDistance int
}

// Index is the narrative element index for one session plus the
// campaign-wide set inherited from earlier sessions. Elements are upserted
// by name and never deleted; callbacks accumulate append-only.
type Index struct {
	mu        sync.RWMutex
	session   map[string]*types.NarrativeElement // key: normalized name
	campaign  map[string]*types.NarrativeElement
	callbacks []types.CallbackEntry

	extractor types.Extractor
	cfg       IndexConfig
}

// NewIndex creates an index. The extractor may be nil, in which case
// ProcessTurn only runs callback detection against already-known elements.
func NewIndex(extractor types.Extractor, cfg IndexConfig) *Index {
	if cfg.DormancyThreshold < 1 {
		cfg.DormancyThreshold = 10
	}
	if cfg.StoryMomentGap < 1 {
		cfg.StoryMomentGap = 8
	}
	if cfg.FuzzyDistance < 1 {
		cfg.FuzzyDistance = 2
	}
	return &Index{
		session:   make(map[string]*types.NarrativeElement),
		campaign:  make(map[string]*types.NarrativeElement),
		extractor: extractor,
		cfg:       cfg,
	}
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Extract runs the extraction provider on new turn text and upserts the
// results. Extraction failure is silent and non-fatal: the round continues
// with no new elements.
func (ix *Index) Extract(ctx context.Context, turnText, speakerID string, turnNumber int) []types.NarrativeElement {
	if ix.extractor == nil {
		return nil
	}
	extracted, err := ix.extractor.Extract(ctx, turnText)
	if err != nil {
		logging.For(logging.CategoryNarrative).Debugw("extraction failed, continuing",
			"speaker", speakerID, "turn", turnNumber, "error", err)
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var out []types.NarrativeElement
	for _, ee := range extracted {
		name := strings.TrimSpace(ee.Name)
		if name == "" || !types.ValidElementType(ee.Type) {
			continue
		}
		key := normalizeName(name)

		if el, ok := ix.lookup(key); ok {
			MarkReferenced(el, turnNumber)
			if el.Description == "" {
				el.Description = ee.Description
			}
			out = append(out, *el)
			continue
		}

		el := &types.NarrativeElement{
			ID:                 uuid.NewString(),
			Name:               name,
			Type:               ee.Type,
			Description:        ee.Description,
			TurnIntroduced:     turnNumber,
			LastReferencedTurn: turnNumber,
			TimesReferenced:    1,
		}
		ix.session[key] = el
		out = append(out, *el)
	}
	return out
}

// lookup checks the session set first, then the campaign set. Callers hold
// the lock.
func (ix *Index) lookup(key string) (*types.NarrativeElement, bool) {
	if el, ok := ix.session[key]; ok {
		return el, true
	}
	if el, ok := ix.campaign[key]; ok {
		return el, true
	}
	return nil, false
}

// DetectCallbacks scans turn text against every known element. Per
// element, exact beats fuzzy beats keyword and the first hit wins. Each
// hit updates the element's reference counters and clears dormancy.
func (ix *Index) DetectCallbacks(turnText string, turnNumber int) []types.CallbackEntry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var found []types.CallbackEntry
	for _, el := range ix.allElementsLocked() {
		// An element first introduced by this very turn is not a callback.
		if el.TurnIntroduced == turnNumber && el.TimesReferenced <= 1 {
			continue
		}
		m, ok := MatchElement(turnText, *el, ix.cfg.FuzzyDistance)
		if !ok {
			continue
		}
		gap := turnNumber - el.LastReferencedTurn
		if gap < 0 {
			gap = 0
		}
		entry := types.CallbackEntry{
			ID:            uuid.NewString(),
			ElementID:     el.ID,
			ElementName:   el.Name,
			TurnDetected:  turnNumber,
			MatchType:     m.Type,
			MatchContext:  m.Context,
			IsStoryMoment: gap > ix.cfg.StoryMomentGap,
			TurnGap:       gap,
		}
		MarkReferenced(el, turnNumber)
		found = append(found, entry)
	}
	ix.callbacks = append(ix.callbacks, found...)
	return found
}

// SweepDormancy recomputes dormancy for every element. Called once per
// round.
func (ix *Index) SweepDormancy(currentTurn int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, el := range ix.allElementsLocked() {
		UpdateDormancy(el, currentTurn, ix.cfg.DormancyThreshold)
	}
}

// DormantElements returns the currently dormant, unresolved elements,
// longest-dormant first. These feed the director's callback suggestions.
func (ix *Index) DormantElements() []types.NarrativeElement {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []types.NarrativeElement
	for _, el := range ix.allElementsLocked() {
		if el.Dormant && !el.Resolved {
			out = append(out, *el)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DormancyTurns > out[j].DormancyTurns })
	return out
}

// allElementsLocked returns every element, session set shadowing the
// campaign set on name collisions. Callers hold the lock.
func (ix *Index) allElementsLocked() []*types.NarrativeElement {
	out := make([]*types.NarrativeElement, 0, len(ix.session)+len(ix.campaign))
	for _, el := range ix.session {
		out = append(out, el)
	}
	for key, el := range ix.campaign {
		if _, shadowed := ix.session[key]; shadowed {
			continue
		}
		out = append(out, el)
	}
	return out
}

// Export snapshots the index for checkpointing.
func (ix *Index) Export() (session, campaign []types.NarrativeElement, callbacks []types.CallbackEntry) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, el := range ix.session {
		session = append(session, *el)
	}
	for _, el := range ix.campaign {
		campaign = append(campaign, *el)
	}
	sort.Slice(session, func(i, j int) bool { return session[i].Name < session[j].Name })
	sort.Slice(campaign, func(i, j int) bool { return campaign[i].Name < campaign[j].Name })
	callbacks = append(callbacks, ix.callbacks...)
	return session, campaign, callbacks
}

// Load replaces the index contents from a checkpoint or campaign store.
func (ix *Index) Load(session, campaign []types.NarrativeElement, callbacks []types.CallbackEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.session = make(map[string]*types.NarrativeElement, len(session))
	for i := range session {
		el := session[i]
		ix.session[normalizeName(el.Name)] = &el
	}
	ix.campaign = make(map[string]*types.NarrativeElement, len(campaign))
	for i := range campaign {
		el := campaign[i]
		ix.campaign[normalizeName(el.Name)] = &el
	}
	ix.callbacks = append([]types.CallbackEntry(nil), callbacks...)
}

// LoadCampaign seeds only the campaign-wide set, keeping session state.
func (ix *Index) LoadCampaign(els []types.NarrativeElement) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range els {
		el := els[i]
		ix.campaign[normalizeName(el.Name)] = &el
	}
}

// MergeIntoCampaign folds this session's elements into the campaign set,
// for persisting at session end. Session entries win on collision.
func (ix *Index) MergeIntoCampaign() []types.NarrativeElement {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for key, el := range ix.session {
		ix.campaign[key] = el
	}
	out := make([]types.NarrativeElement, 0, len(ix.campaign))
	for _, el := range ix.campaign {
		out = append(out, *el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
