package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storyweave/internal/checkpoint"
	"storyweave/internal/config"
	"storyweave/internal/logging"
	"storyweave/internal/memory"
	"storyweave/internal/narrative"
	"storyweave/internal/prompt"
	"storyweave/internal/types"
)

// Phase is the orchestrator's current position in the round state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseCompressionCheck Phase = "compression_check"
	PhaseDirectorTurn     Phase = "director_turn"
	PhaseParticipantTurn  Phase = "participant_turn"
	PhaseHumanTurn        Phase = "human_turn"
	PhaseRoundComplete    Phase = "round_complete"
	PhaseSessionEnded     Phase = "session_ended"
)

// Event is a progress notification emitted as the session advances.
// Delivery is best-effort: slow consumers drop events, they never stall a
// turn.
type Event struct {
	Phase   Phase  `json:"phase"`
	Round   int    `json:"round"`
	Turn    int    `json:"turn"`
	AgentID string `json:"agent_id,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Providers binds a model backend to each seat at the table.
type Providers struct {
	Director     types.ModelProvider
	Participants map[string]types.ModelProvider
}

// Options configures an orchestrator.
type Options struct {
	Config      config.SessionConfig
	CallTimeout time.Duration

	// State is a fresh aggregate from NewState or one restored from a
	// checkpoint. The orchestrator takes exclusive ownership.
	State *types.SessionState

	Providers  Providers
	Summarizer types.Summarizer
	Extractor  types.Extractor

	Checkpoints *checkpoint.Store
	Campaign    *narrative.CampaignStore // optional cross-session element store

	// Seed fixes the dice stream; 0 seeds from the clock.
	Seed int64
}

// Orchestrator runs one session: compression checks, the director turn,
// each participant turn in order, and round completion with checkpointing.
// It is the sole owner of the session state.
type Orchestrator struct {
	cfg         config.SessionConfig
	callTimeout time.Duration

	mu         sync.Mutex
	state      *types.SessionState
	phase      Phase
	humanNote  string
	roundStart int // SharedLog index where the current round began
	saveErr    error

	store       *memory.Store
	compressor  *memory.Compressor
	index       *narrative.Index
	checkpoints *checkpoint.Store
	transcript  *checkpoint.Transcript
	campaign    *narrative.CampaignStore

	providers Providers
	rng       *rand.Rand

	humanInput chan string
	events     chan Event

	// saves serializes checkpoint writes so an earlier turn can never
	// overwrite a later one.
	saves *errgroup.Group
}

// New assembles an orchestrator around a session state, wiring the memory
// store and narrative index from the state's snapshots so a restored
// session continues where it left off.
func New(opts Options) (*Orchestrator, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("session: nil state")
	}
	if opts.Providers.Director == nil {
		return nil, fmt.Errorf("session: no director provider")
	}
	for _, id := range opts.State.TurnOrder {
		if opts.Providers.Participants[id] == nil {
			return nil, fmt.Errorf("session: no provider for participant %q", id)
		}
	}
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("session: no checkpoint store")
	}

	store := memory.NewStore(nil, opts.Config.NearLimitFraction)
	if len(opts.State.Memories) > 0 {
		store.Load(opts.State.Memories)
	}
	store.Register(opts.State.DirectorID, opts.Config.DirectorTokenLimit)
	for _, id := range opts.State.TurnOrder {
		store.Register(id, opts.Config.ParticipantTokenLimit)
	}

	index := narrative.NewIndex(opts.Extractor, narrative.IndexConfig{
		DormancyThreshold: opts.Config.DormancyThreshold,
		StoryMomentGap:    opts.Config.StoryMomentGap,
		FuzzyDistance:     opts.Config.FuzzyDistance,
	})
	index.Load(opts.State.SessionElements, opts.State.CampaignElements, opts.State.Callbacks)
	if opts.Campaign != nil && len(opts.State.CampaignElements) == 0 {
		els, err := opts.Campaign.LoadElements(opts.State.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("session: load campaign elements: %w", err)
		}
		index.LoadCampaign(els)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	saves := &errgroup.Group{}
	saves.SetLimit(1)

	return &Orchestrator{
		cfg:         opts.Config,
		callTimeout: opts.CallTimeout,
		state:       opts.State,
		phase:       PhaseIdle,
		store:       store,
		compressor: memory.NewCompressor(store, opts.Summarizer, memory.CompressorConfig{
			RetentionCount:  opts.Config.RetentionCount,
			MaxPasses:       opts.Config.MaxCompressionPasses,
			HardCharCeiling: opts.Config.HardCharCeiling,
		}),
		index:       index,
		checkpoints: opts.Checkpoints,
		transcript:  checkpoint.NewTranscript(opts.Checkpoints),
		campaign:    opts.Campaign,
		providers:   opts.Providers,
		rng:         rand.New(rand.NewSource(seed)),
		humanInput:  make(chan string, 1),
		events:      make(chan Event, 64),
		saves:       saves,
	}, nil
}

// Events exposes the progress stream. Closed when Run returns.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Phase returns the current state machine phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// StateSnapshot returns a deep copy of the session state for inspection.
func (o *Orchestrator) StateSnapshot() *types.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneState(o.state)
}

// EnableHumanTakeover routes the named participant slot to human input.
// Takes effect at that participant's next turn.
func (o *Orchestrator) EnableHumanTakeover(slot string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.state.TurnOrder {
		if id == slot {
			o.state.HumanActive = true
			o.state.HumanSlot = slot
			return nil
		}
	}
	return fmt.Errorf("no participant slot %q", slot)
}

// DisableHumanTakeover returns the slot to its model provider.
func (o *Orchestrator) DisableHumanTakeover() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.HumanActive = false
	o.state.HumanSlot = ""
}

// SubmitHumanAction delivers the human's turn text. Non-blocking; returns
// an error when no human turn is pending input.
func (o *Orchestrator) SubmitHumanAction(text string) error {
	select {
	case o.humanInput <- text:
		return nil
	default:
		return fmt.Errorf("no human turn waiting for input")
	}
}

// SubmitTableNote queues an out-of-character steering note for the
// director's next turn. A newer note replaces an unconsumed one.
func (o *Orchestrator) SubmitTableNote(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.humanNote = text
}

// Run drives rounds until the context is canceled or MaxRounds is reached.
// Provider failures skip the affected turn; only context cancellation and
// checkpoint-store construction errors abort the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.finish()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.mu.Lock()
		round := o.state.Round
		o.mu.Unlock()
		if o.cfg.MaxRounds > 0 && round > o.cfg.MaxRounds {
			return nil
		}
		if err := o.runRound(ctx); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runRound(ctx context.Context) error {
	o.mu.Lock()
	o.roundStart = len(o.state.SharedLog)
	saveErr := o.saveErr
	o.mu.Unlock()
	// A failed checkpoint write halts before any further mutation; the last
	// good checkpoint stays intact.
	if saveErr != nil {
		return fmt.Errorf("checkpoint storage failed: %w", saveErr)
	}

	o.setPhase(PhaseCompressionCheck)
	o.compressAll(ctx)

	o.setPhase(PhaseDirectorTurn)
	if err := o.directorTurn(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	order := append([]string(nil), o.state.TurnOrder...)
	o.mu.Unlock()
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.humanControls(id) {
			o.setPhase(PhaseHumanTurn)
			if err := o.humanTurn(ctx, id); err != nil {
				return err
			}
			continue
		}
		o.setPhase(PhaseParticipantTurn)
		if err := o.participantTurn(ctx, id); err != nil {
			return err
		}
	}

	o.setPhase(PhaseRoundComplete)
	o.completeRound()
	return nil
}

// compressAll triggers compression for every agent whose buffer is near
// its token budget. Failures leave the buffer intact for the next check.
func (o *Orchestrator) compressAll(ctx context.Context) {
	log := logging.For(logging.CategorySession)
	for _, id := range o.store.AgentIDs() {
		if !o.store.IsNearLimit(id) {
			continue
		}
		if err := o.compressor.Compress(ctx, id); err != nil {
			log.Warnw("compression failed, will retry next round", "agent", id, "error", err)
		}
	}
}

func (o *Orchestrator) directorTurn(ctx context.Context) error {
	log := logging.For(logging.CategorySession)

	o.mu.Lock()
	o.state.Turn++
	turn := o.state.Turn
	directorID := o.state.DirectorID
	note := o.humanNote
	o.humanNote = ""
	mem, _ := o.store.Snapshot(directorID)
	buffers := make(map[string][]types.LogEntry, len(o.state.TurnOrder))
	for _, id := range o.state.TurnOrder {
		if pm, ok := o.store.Snapshot(id); ok {
			buffers[id] = pm.ShortTermBuffer
		}
	}
	view := directorView(o.state, mem, buffers, o.index.DormantElements(), note, o.cfg.SceneWindow)
	o.mu.Unlock()

	pctx := prompt.BuildDirectorContext(view)
	tools := directorTools()

	res, err := o.generate(ctx, o.providers.Director, directorSystemPrompt, pctx.Text, tools)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnw("director turn skipped after provider failure", "turn", turn, "error", err)
		o.emit(Event{Phase: PhaseDirectorTurn, Turn: turn, AgentID: directorID, Text: "(turn skipped)"})
		return nil
	}

	o.mu.Lock()
	effects, toolErr := applyToolCalls(o.state, o.rng, res.ToolCalls)
	o.mu.Unlock()

	if toolErr != nil {
		// One corrective retry, then the turn proceeds narration-only.
		log.Infow("invalid tool call, asking for one correction", "turn", turn, "error", toolErr)
		retry, rerr := o.generate(ctx, o.providers.Director, directorSystemPrompt,
			correctiveToolPrompt(pctx.Text, toolErr), tools)
		if rerr == nil {
			o.mu.Lock()
			more, merr := applyToolCalls(o.state, o.rng, retry.ToolCalls)
			o.mu.Unlock()
			effects = append(effects, more...)
			if merr != nil {
				log.Warnw("corrective tool call still invalid, narration only", "turn", turn, "error", merr)
			}
			if retry.Text != "" {
				res = retry
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	text := res.Text
	for _, e := range effects {
		text += "\n" + e
	}
	o.recordTurn(ctx, directorID, turn, text)
	return nil
}

func (o *Orchestrator) participantTurn(ctx context.Context, agentID string) error {
	log := logging.For(logging.CategorySession)

	o.mu.Lock()
	o.state.Turn++
	turn := o.state.Turn
	mem, _ := o.store.Snapshot(agentID)
	view := participantView(o.state, mem, agentID, o.cfg.SceneWindow)
	o.mu.Unlock()

	pctx := prompt.BuildParticipantContext(view)
	res, err := o.generate(ctx, o.providers.Participants[agentID], participantSystemPrompt, pctx.Text, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnw("participant turn skipped after provider failure",
			"agent", agentID, "turn", turn, "error", err)
		o.emit(Event{Phase: PhaseParticipantTurn, Turn: turn, AgentID: agentID, Text: "(turn skipped)"})
		return nil
	}

	o.recordTurn(ctx, agentID, turn, res.Text)
	return nil
}

// humanTurn waits for SubmitHumanAction. With HumanTimeout configured, an
// unanswered turn is skipped so the table is never wedged on an absent
// human; zero disables the watchdog.
func (o *Orchestrator) humanTurn(ctx context.Context, agentID string) error {
	o.mu.Lock()
	o.state.Turn++
	turn := o.state.Turn
	o.mu.Unlock()

	o.emit(Event{Phase: PhaseHumanTurn, Turn: turn, AgentID: agentID, Text: "(waiting for input)"})

	var timeout <-chan time.Time
	if o.cfg.HumanTimeout > 0 {
		timer := time.NewTimer(o.cfg.HumanTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case text := <-o.humanInput:
		o.recordTurn(ctx, agentID, turn, text)
		return nil
	case <-timeout:
		logging.For(logging.CategorySession).Warnw("human turn timed out, skipping",
			"agent", agentID, "turn", turn, "timeout", o.cfg.HumanTimeout)
		o.emit(Event{Phase: PhaseHumanTurn, Turn: turn, AgentID: agentID, Text: "(turn skipped)"})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordTurn commits a completed turn: shared log, the speaker's private
// buffer, then narrative processing. Callback detection runs before
// extraction so a revival's turn gap is measured against the previous
// reference, not this turn's own upsert.
func (o *Orchestrator) recordTurn(ctx context.Context, speakerID string, turn int, text string) {
	o.mu.Lock()
	entry := appendShared(o.state, speakerID, text)
	phase := o.phase
	o.mu.Unlock()

	if err := o.store.Append(speakerID, entry); err != nil {
		logging.For(logging.CategorySession).Errorw("buffer append failed", "agent", speakerID, "error", err)
	}
	o.emit(Event{Phase: phase, Turn: turn, AgentID: speakerID, Text: text})

	o.index.DetectCallbacks(text, turn)
	o.index.Extract(ctx, text, speakerID, turn)
}

// completeRound folds the round into durable state: dormancy sweep, index
// and memory snapshots into the aggregate, then an asynchronous transcript
// append and checkpoint write. Writes are serialized in submission order.
func (o *Orchestrator) completeRound() {
	o.mu.Lock()
	o.index.SweepDormancy(o.state.Turn)
	o.syncStateLocked()
	snapshot := cloneState(o.state)
	newEntries := append([]types.LogEntry(nil), o.state.SharedLog[o.roundStart:]...)
	round := o.state.Round
	o.state.Round++
	o.mu.Unlock()

	o.saves.Go(func() error {
		log := logging.For(logging.CategoryCheckpoint)
		if err := o.transcript.Append(newEntries); err != nil {
			log.Errorw("transcript append failed", "round", round, "error", err)
		}
		if err := o.checkpoints.Save(snapshot); err != nil {
			log.Errorw("checkpoint save failed", "round", round, "turn", snapshot.Turn, "error", err)
			o.mu.Lock()
			o.saveErr = err
			o.mu.Unlock()
			return err
		}
		return nil
	})
}

// syncStateLocked refreshes the aggregate's memory and narrative snapshots
// from their owning components. Callers hold the lock.
func (o *Orchestrator) syncStateLocked() {
	o.state.Memories = o.store.Export()
	session, campaign, callbacks := o.index.Export()
	o.state.SessionElements = session
	o.state.CampaignElements = campaign
	o.state.Callbacks = callbacks
}

// finish drains pending checkpoint writes, persists campaign elements, and
// writes a final synchronous checkpoint.
func (o *Orchestrator) finish() {
	log := logging.For(logging.CategorySession)
	o.setPhase(PhaseSessionEnded)

	if err := o.saves.Wait(); err != nil {
		log.Errorw("pending checkpoint write failed", "error", err)
	}

	if o.campaign != nil {
		o.mu.Lock()
		campaignID := o.state.CampaignID
		o.mu.Unlock()
		if err := o.campaign.SaveElements(campaignID, o.index.MergeIntoCampaign()); err != nil {
			log.Errorw("campaign element save failed", "campaign", campaignID, "error", err)
		}
	}

	o.mu.Lock()
	o.syncStateLocked()
	snapshot := cloneState(o.state)
	o.mu.Unlock()
	if err := o.checkpoints.Save(snapshot); err != nil {
		log.Errorw("final checkpoint save failed", "turn", snapshot.Turn, "error", err)
	}

	close(o.events)
}

// generate calls the provider with a per-call timeout and one retry on
// failure. Context cancellation is never retried.
func (o *Orchestrator) generate(ctx context.Context, p types.ModelProvider, system, block string, tools []types.ToolDefinition) (*types.GenerateResult, error) {
	attempt := func() (*types.GenerateResult, error) {
		cctx := ctx
		if o.callTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, o.callTimeout)
			defer cancel()
		}
		return p.Generate(cctx, system, block, tools)
	}

	res, err := attempt()
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	logging.For(logging.CategoryProvider).Debugw("provider call failed, retrying once", "error", err)
	return attempt()
}

func (o *Orchestrator) humanControls(agentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.HumanActive && o.state.HumanSlot == agentID
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	round := o.state.Round
	turn := o.state.Turn
	o.mu.Unlock()
	o.emit(Event{Phase: p, Round: round, Turn: turn})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}
