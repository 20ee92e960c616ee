package narrative

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storyweave/internal/types"
)

func TestCampaignStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.db")
	store, err := OpenCampaignStore(path)
	require.NoError(t, err)
	defer store.Close()

	els := []types.NarrativeElement{
		{ID: "e1", Name: "Rusted Key", Type: types.ElementItem, Description: "opens the northern gate",
			TurnIntroduced: 3, LastReferencedTurn: 9, TimesReferenced: 4, Dormant: true, DormancyTurns: 12},
		{ID: "e2", Name: "Captain Aldric", Type: types.ElementPerson, Description: "harbor watch captain"},
	}
	require.NoError(t, store.SaveElements("camp-1", els))

	got, err := store.LoadElements("camp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Captain Aldric", got[0].Name) // ordered by name key
	require.Equal(t, 4, got[1].TimesReferenced)
	require.True(t, got[1].Dormant)
}

func TestCampaignStore_UpsertByName(t *testing.T) {
	store, err := OpenCampaignStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	el := types.NarrativeElement{ID: "e1", Name: "Rusted Key", Type: types.ElementItem, TimesReferenced: 1}
	require.NoError(t, store.SaveElements("camp-1", []types.NarrativeElement{el}))

	el.TimesReferenced = 7
	require.NoError(t, store.SaveElements("camp-1", []types.NarrativeElement{el}))

	got, err := store.LoadElements("camp-1")
	require.NoError(t, err)
	require.Len(t, got, 1, "same name must upsert, not duplicate")
	require.Equal(t, 7, got[0].TimesReferenced)
}

func TestCampaignStore_IsolatedByCampaign(t *testing.T) {
	store, err := OpenCampaignStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveElements("camp-1", []types.NarrativeElement{
		{ID: "e1", Name: "Rusted Key", Type: types.ElementItem},
	}))

	got, err := store.LoadElements("camp-2")
	require.NoError(t, err)
	require.Empty(t, got)
}
