package narrative

import (
	"context"
	"errors"
	"testing"

	"storyweave/internal/types"
)

func testIndexConfig() IndexConfig {
	return IndexConfig{DormancyThreshold: 10, StoryMomentGap: 8, FuzzyDistance: 2}
}

func TestExtract_UpsertByName(t *testing.T) {
	ext := &mockExtractor{
		ExtractFunc: func(ctx context.Context, text string) ([]types.ExtractedElement, error) {
			return []types.ExtractedElement{
				{Name: "Rusted Key", Type: types.ElementItem, Description: "opens the northern gate"},
			}, nil
		},
	}
	ix := NewIndex(ext, testIndexConfig())

	first := ix.Extract(context.Background(), "they found a rusted key", "director", 3)
	if len(first) != 1 {
		t.Fatalf("expected 1 element, got %d", len(first))
	}
	if first[0].TurnIntroduced != 3 || first[0].TimesReferenced != 1 {
		t.Errorf("unexpected new element: %+v", first[0])
	}

	// Same name again, different casing: updated, not duplicated.
	ext.ExtractFunc = func(ctx context.Context, text string) ([]types.ExtractedElement, error) {
		return []types.ExtractedElement{
			{Name: "rusted key", Type: types.ElementItem, Description: "ignored"},
		}, nil
	}
	second := ix.Extract(context.Background(), "the rusted key again", "director", 7)
	if len(second) != 1 {
		t.Fatalf("expected 1 element, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Error("re-extraction must upsert, not duplicate")
	}
	if second[0].TimesReferenced != 2 || second[0].LastReferencedTurn != 7 {
		t.Errorf("counters not updated: %+v", second[0])
	}
	if second[0].TurnIntroduced != 3 {
		t.Error("turnIntroduced must not change on upsert")
	}
}

func TestExtract_FailureIsSilent(t *testing.T) {
	ext := &mockExtractor{
		ExtractFunc: func(ctx context.Context, text string) ([]types.ExtractedElement, error) {
			return nil, errors.New("malformed output")
		},
	}
	ix := NewIndex(ext, testIndexConfig())
	if got := ix.Extract(context.Background(), "anything", "p1", 1); got != nil {
		t.Errorf("extraction failure must yield no elements, got %v", got)
	}
}

func TestExtract_InvalidTypeSkipped(t *testing.T) {
	ext := &mockExtractor{
		ExtractFunc: func(ctx context.Context, text string) ([]types.ExtractedElement, error) {
			return []types.ExtractedElement{
				{Name: "Something", Type: "vibe", Description: "not a real type"},
				{Name: "", Type: types.ElementItem},
			}, nil
		},
	}
	ix := NewIndex(ext, testIndexConfig())
	if got := ix.Extract(context.Background(), "text", "p1", 1); len(got) != 0 {
		t.Errorf("invalid elements must be skipped, got %v", got)
	}
}

func seedElement(ix *Index, name, desc string, introduced int) types.NarrativeElement {
	el := types.NarrativeElement{
		ID: "seed-" + name, Name: name, Type: types.ElementItem, Description: desc,
		TurnIntroduced: introduced, LastReferencedTurn: introduced, TimesReferenced: 1,
	}
	s, c, cb := ix.Export()
	s = append(s, el)
	ix.Load(s, c, cb)
	return el
}

func TestDetectCallbacks_StoryMoment(t *testing.T) {
	ix := NewIndex(nil, testIndexConfig())
	seedElement(ix, "Silver Locket", "a keepsake from the drowned village", 2)

	// Gap of 18 turns exceeds the story-moment threshold of 8.
	found := ix.DetectCallbacks("she produced the silver locket once more", 20)
	if len(found) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(found))
	}
	cb := found[0]
	if cb.MatchType != types.MatchExact || !cb.IsStoryMoment || cb.TurnGap != 18 {
		t.Errorf("unexpected callback: %+v", cb)
	}

	// Mention again two turns later: routine continuity, not a story moment.
	found = ix.DetectCallbacks("the silver locket glinted", 22)
	if len(found) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(found))
	}
	if found[0].IsStoryMoment {
		t.Error("gap 2 should be routine continuity")
	}
}

func TestDetectCallbacks_FirstMatchWinsPerElement(t *testing.T) {
	ix := NewIndex(nil, testIndexConfig())
	seedElement(ix, "Ledger", "a gambling ledger from the syndicate vault", 1)

	found := ix.DetectCallbacks("the ledger and the syndicate gambling ring", 5)
	if len(found) != 1 {
		t.Fatalf("one element must yield at most one callback, got %d", len(found))
	}
	if found[0].MatchType != types.MatchExact {
		t.Errorf("exact must win, got %s", found[0].MatchType)
	}
}

func TestDetectCallbacks_NewElementNotACallback(t *testing.T) {
	ext := &mockExtractor{
		ExtractFunc: func(ctx context.Context, text string) ([]types.ExtractedElement, error) {
			return []types.ExtractedElement{{Name: "Obsidian Crown", Type: types.ElementItem}}, nil
		},
	}
	ix := NewIndex(ext, testIndexConfig())
	ix.Extract(context.Background(), "an obsidian crown sat on the altar", "director", 4)

	if found := ix.DetectCallbacks("an obsidian crown sat on the altar", 4); len(found) != 0 {
		t.Errorf("element introduced this turn is not a callback, got %v", found)
	}
}

func TestSweepDormancy_AndSuggestions(t *testing.T) {
	ix := NewIndex(nil, testIndexConfig())
	seedElement(ix, "Old Debt", "a gambling debt owed to the Ashford syndicate", 1)
	seedElement(ix, "Fresh Lead", "a tip about the harbor master", 14)

	ix.SweepDormancy(15)

	dormant := ix.DormantElements()
	if len(dormant) != 1 || dormant[0].Name != "Old Debt" {
		t.Fatalf("expected only Old Debt dormant, got %v", dormant)
	}
	if dormant[0].DormancyTurns != 14 {
		t.Errorf("dormancyTurns = %d, want 14", dormant[0].DormancyTurns)
	}

	// Referencing the dormant element revives it immediately.
	ix.DetectCallbacks("the old debt resurfaced", 15)
	if d := ix.DormantElements(); len(d) != 0 {
		t.Errorf("referenced element must no longer be dormant, got %v", d)
	}
}

func TestCampaignShadowing(t *testing.T) {
	ix := NewIndex(nil, testIndexConfig())
	ix.LoadCampaign([]types.NarrativeElement{{
		ID: "camp-1", Name: "Rusted Key", Type: types.ElementItem,
		TurnIntroduced: 1, LastReferencedTurn: 1, TimesReferenced: 3,
	}})

	found := ix.DetectCallbacks("the rusted key turned in the lock", 12)
	if len(found) != 1 || found[0].ElementID != "camp-1" {
		t.Fatalf("campaign element should be matchable, got %v", found)
	}

	merged := ix.MergeIntoCampaign()
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged element, got %d", len(merged))
	}
	if merged[0].TimesReferenced != 4 {
		t.Errorf("merged element should carry updated counters, got %+v", merged[0])
	}
}
