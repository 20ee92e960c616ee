package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storyweave/internal/checkpoint"
	"storyweave/internal/config"
	"storyweave/internal/narrative"
	"storyweave/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(maxRounds int) config.SessionConfig {
	cfg := config.DefaultConfig().Session
	cfg.MaxRounds = maxRounds
	return cfg
}

type orchFixture struct {
	orch     *Orchestrator
	ckpt     *checkpoint.Store
	director *mockProvider
	ash      *mockProvider
	bren     *mockProvider
}

func newFixture(t *testing.T, cfg config.SessionConfig, st *types.SessionState, mutate func(*Options)) *orchFixture {
	t.Helper()
	if st == nil {
		st = testState()
	}
	ckpt, err := checkpoint.NewStore(t.TempDir(), st.SessionID)
	require.NoError(t, err)

	f := &orchFixture{
		ckpt:     ckpt,
		director: &mockProvider{text: "The torches gutter in the hall."},
		ash:      &mockProvider{text: "I press against the wall and listen."},
		bren:     &mockProvider{text: "I light a fresh torch."},
	}
	opts := Options{
		Config: cfg,
		State:  st,
		Providers: Providers{
			Director:     f.director,
			Participants: map[string]types.ModelProvider{"ash": f.ash, "bren": f.bren},
		},
		Summarizer:  &mockSummarizer{},
		Checkpoints: ckpt,
		Seed:        1,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.orch, err = New(opts)
	require.NoError(t, err)
	return f
}

func drainEvents(o *Orchestrator) []Event {
	var out []Event
	for ev := range o.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRun_TurnOrderAndCheckpoints(t *testing.T) {
	f := newFixture(t, testConfig(2), nil, nil)
	require.NoError(t, f.orch.Run(context.Background()))

	st := f.orch.StateSnapshot()
	assert.Equal(t, 3, st.Round)
	assert.Equal(t, 6, st.Turn)

	var speakers []string
	for _, e := range st.SharedLog {
		speakers = append(speakers, e.SpeakerID)
	}
	assert.Equal(t, []string{"director", "ash", "bren", "director", "ash", "bren"}, speakers)

	latest, err := f.ckpt.Latest()
	require.NoError(t, err)
	assert.Equal(t, 6, latest)

	restored, err := f.ckpt.Load(latest)
	require.NoError(t, err)
	assert.Len(t, restored.SharedLog, 6)

	// Every round runs its compression check before the director speaks.
	events := drainEvents(f.orch)
	// Phase-transition events carry no text; turn results do.
	var phases []Phase
	for _, ev := range events {
		if ev.Text == "" && (ev.Phase == PhaseCompressionCheck || ev.Phase == PhaseDirectorTurn) {
			phases = append(phases, ev.Phase)
		}
	}
	require.GreaterOrEqual(t, len(phases), 4)
	for i := 0; i+1 < len(phases); i += 2 {
		assert.Equal(t, PhaseCompressionCheck, phases[i])
		assert.Equal(t, PhaseDirectorTurn, phases[i+1])
	}
	assert.Equal(t, PhaseSessionEnded, events[len(events)-1].Phase)
}

func TestRun_CompressionFoldsBufferIntoSummary(t *testing.T) {
	cfg := testConfig(3)
	cfg.ParticipantTokenLimit = 60
	cfg.RetentionCount = 1

	sum := &mockSummarizer{}
	f := newFixture(t, cfg, nil, func(o *Options) {
		o.Summarizer = sum
	})
	f.ash.text = strings.Repeat("I wade deeper into the flooded crypt. ", 10)
	f.bren.text = strings.Repeat("I bail water with my helmet. ", 10)

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	require.Greater(t, sum.count(), 0)

	st := f.orch.StateSnapshot()
	mem := st.Memories["ash"]
	require.NotNil(t, mem)
	assert.NotEmpty(t, mem.LongTermSummary)
	assert.LessOrEqual(t, len(mem.ShortTermBuffer), 2)

	// The participant's own prompt carries the folded summary in a later
	// round, so compression happened before that round's turn.
	ctxs := f.ash.contexts()
	require.Len(t, ctxs, 3)
	assert.Contains(t, ctxs[2], "summary")
}

func TestRun_WhisperIsolation(t *testing.T) {
	f := newFixture(t, testConfig(2), nil, nil)
	f.director.fn = func(call int, _ string) (*types.GenerateResult, error) {
		if call == 0 {
			return &types.GenerateResult{
				Text: "The innkeeper leans toward Ash.",
				ToolCalls: []types.ToolCall{{
					ID: "t1", Name: "whisper",
					Input: map[string]any{"agent_id": "ash", "content": "secret-for-ash"},
				}},
			}, nil
		}
		return &types.GenerateResult{Text: "Morning comes."}, nil
	}

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	for i, ctx := range f.ash.contexts() {
		assert.Contains(t, ctx, "secret-for-ash", "ash context %d", i)
	}
	for i, ctx := range f.bren.contexts() {
		assert.NotContains(t, ctx, "secret-for-ash", "bren context %d", i)
	}
	// The director keeps seeing the whisper it issued.
	ctxs := f.director.contexts()
	assert.Contains(t, ctxs[len(ctxs)-1], "secret-for-ash")

	// The shared record notes that a whisper happened, never what it said.
	st := f.orch.StateSnapshot()
	for _, e := range st.SharedLog {
		if e.SpeakerID == "director" {
			assert.NotContains(t, e.Text, "secret-for-ash")
		}
	}
}

func TestRun_ProviderFailureSkipsTurn(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	f.bren.fn = func(int, string) (*types.GenerateResult, error) {
		return nil, errors.New("model overloaded")
	}

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	st := f.orch.StateSnapshot()
	var speakers []string
	for _, e := range st.SharedLog {
		speakers = append(speakers, e.SpeakerID)
	}
	assert.Equal(t, []string{"director", "ash"}, speakers)
	// One retry, then the turn is given up.
	assert.Len(t, f.bren.contexts(), 2)
}

func TestRun_CorrectiveToolRetry(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	f.director.fn = func(call int, _ string) (*types.GenerateResult, error) {
		if call == 0 {
			return &types.GenerateResult{
				Text: "Bren swings at the lock.",
				ToolCalls: []types.ToolCall{{
					ID: "t1", Name: "update_sheet",
					Input: map[string]any{"agent_id": "bren", "field": "strength", "value": float64(1)},
				}},
			}, nil
		}
		return &types.GenerateResult{
			Text: "Bren swings at the lock, hard.",
			ToolCalls: []types.ToolCall{{
				ID: "t2", Name: "roll", Input: map[string]any{"spec": "1d20"},
			}},
		}, nil
	}

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	ctxs := f.director.contexts()
	require.Len(t, ctxs, 2)
	assert.Contains(t, ctxs[1], "Tool Error")
	assert.Contains(t, ctxs[1], "strength")

	st := f.orch.StateSnapshot()
	require.NotEmpty(t, st.SharedLog)
	entry := st.SharedLog[0]
	assert.Contains(t, entry.Text, "(roll)")
	assert.Contains(t, entry.Text, "hard")
}

func TestRun_CorrectiveRetryStillInvalid(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	f.director.fn = func(call int, _ string) (*types.GenerateResult, error) {
		return &types.GenerateResult{
			Text: "The lock refuses to budge.",
			ToolCalls: []types.ToolCall{{
				ID: "t1", Name: "update_sheet",
				Input: map[string]any{"agent_id": "bren", "field": "bogus", "value": float64(1)},
			}},
		}, nil
	}

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	// Two attempts, then narration only.
	assert.Len(t, f.director.contexts(), 2)
	st := f.orch.StateSnapshot()
	require.NotEmpty(t, st.SharedLog)
	assert.NotContains(t, st.SharedLog[0].Text, "(roll")
	assert.Contains(t, st.SharedLog[0].Text, "refuses to budge")
}

func TestRun_HumanTakeover(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	require.NoError(t, f.orch.EnableHumanTakeover("bren"))
	require.NoError(t, f.orch.SubmitHumanAction("I kick the door down."))

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	st := f.orch.StateSnapshot()
	require.Len(t, st.SharedLog, 3)
	assert.Equal(t, "bren", st.SharedLog[2].SpeakerID)
	assert.Equal(t, "I kick the door down.", st.SharedLog[2].Text)
	// The model provider for the slot was never consulted.
	assert.Empty(t, f.bren.contexts())
	assert.True(t, st.HumanActive)
}

func TestRun_HumanTimeoutSkipsTurn(t *testing.T) {
	cfg := testConfig(1)
	cfg.HumanTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil, nil)
	require.NoError(t, f.orch.EnableHumanTakeover("bren"))

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	st := f.orch.StateSnapshot()
	var speakers []string
	for _, e := range st.SharedLog {
		speakers = append(speakers, e.SpeakerID)
	}
	assert.Equal(t, []string{"director", "ash"}, speakers)
}

func TestRun_EnableHumanTakeover_UnknownSlot(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	assert.Error(t, f.orch.EnableHumanTakeover("nobody"))
	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)
}

func TestRun_TableNoteReachesDirector(t *testing.T) {
	f := newFixture(t, testConfig(2), nil, nil)
	f.orch.SubmitTableNote("Please give Bren a chance to shine.")

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	ctxs := f.director.contexts()
	require.Len(t, ctxs, 2)
	assert.Contains(t, ctxs[0], "chance to shine")
	// Consumed after one turn.
	assert.NotContains(t, ctxs[1], "chance to shine")
}

func TestRun_DormantElementRevivalIsStoryMoment(t *testing.T) {
	st := testState()
	st.Turn = 20
	st.SessionElements = []types.NarrativeElement{{
		ID: "e1", Name: "Silver Locket", Type: types.ElementItem,
		Description: "a keepsake from the drowned village", TurnIntroduced: 1,
		LastReferencedTurn: 1, TimesReferenced: 2,
	}}

	f := newFixture(t, testConfig(1), st, nil)
	f.director.text = "The silver locket glints in the rubble."

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	snap := f.orch.StateSnapshot()
	require.NotEmpty(t, snap.Callbacks)
	cb := snap.Callbacks[0]
	assert.Equal(t, "Silver Locket", cb.ElementName)
	assert.Equal(t, 21, cb.TurnDetected)
	assert.Equal(t, 20, cb.TurnGap)
	assert.True(t, cb.IsStoryMoment)
}

func TestRun_ExtractionFeedsIndexAndCampaignStore(t *testing.T) {
	campaign, err := narrative.OpenCampaignStore(":memory:")
	require.NoError(t, err)
	defer campaign.Close()

	f := newFixture(t, testConfig(1), nil, func(o *Options) {
		o.Extractor = &mockExtractor{results: map[string][]types.ExtractedElement{
			"Ember Gate": {{Name: "Ember Gate", Type: types.ElementLocation, Description: "a sealed gate of black iron"}},
		}}
		o.Campaign = campaign
	})
	f.director.text = "Beyond the bridge stands the Ember Gate."

	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	snap := f.orch.StateSnapshot()
	require.Len(t, snap.SessionElements, 1)
	assert.Equal(t, "Ember Gate", snap.SessionElements[0].Name)

	// Session end folded the element into the campaign set.
	els, err := campaign.LoadElements(snap.CampaignID)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "Ember Gate", els[0].Name)
}

func TestRun_ResumeFromCheckpoint(t *testing.T) {
	f := newFixture(t, testConfig(1), nil, nil)
	require.NoError(t, f.orch.Run(context.Background()))
	drainEvents(f.orch)

	latest, err := f.ckpt.Latest()
	require.NoError(t, err)
	restored, err := f.ckpt.Load(latest)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Round)

	cfg := testConfig(2)
	f2 := newFixture(t, cfg, restored, nil)
	require.NoError(t, f2.orch.Run(context.Background()))
	drainEvents(f2.orch)

	snap := f2.orch.StateSnapshot()
	assert.Equal(t, 3, snap.Round)
	assert.Len(t, snap.SharedLog, 6)
	// Restored private memory carried over into the new run.
	mem := snap.Memories["ash"]
	require.NotNil(t, mem)
	assert.GreaterOrEqual(t, len(mem.ShortTermBuffer), 2)
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(t, testConfig(0), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	f.ash.fn = func(call int, _ string) (*types.GenerateResult, error) {
		if call == 2 {
			cancel()
		}
		return &types.GenerateResult{Text: "I keep watch."}, nil
	}

	err := f.orch.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	drainEvents(f.orch)

	// Pending checkpoint writes still flushed on the way out.
	latest, lerr := f.ckpt.Latest()
	require.NoError(t, lerr)
	assert.Greater(t, latest, 0)
}
