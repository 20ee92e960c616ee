// weave runs multi-agent narrative sessions from the terminal: a director
// model, a party of participant models, and optionally a human seated in
// one of the participant slots.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"storyweave/internal/checkpoint"
	"storyweave/internal/config"
	"storyweave/internal/logging"
	"storyweave/internal/narrative"
	"storyweave/internal/provider"
	"storyweave/internal/session"
	"storyweave/internal/types"
)

var (
	configPath string
	verbose    bool

	campaignID   string
	partyList    string
	scenarioPath string
	humanSlot    string

	resumeTurn int
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "weave - multi-agent narrative session engine",
	Long: `weave runs collaborative narrative sessions driven by model agents.

A director agent narrates the world and controls dice, sheets, and private
whispers; participant agents play one character each with strictly isolated
private memory. Sessions checkpoint every round and can be resumed or
rewound to any earlier turn.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return logging.Init(verbose || cfg.Logging.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new session",
	RunE:  runSession,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a checkpointed session, optionally rewinding to a turn",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeSession,
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Print the session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  showTranscript,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "weave.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringVar(&campaignID, "campaign", "default", "campaign the session belongs to")
	runCmd.Flags().StringVar(&partyList, "party", "", "comma-separated participant ids (ignored with --scenario)")
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML scenario file with party sheets")
	runCmd.Flags().StringVar(&humanSlot, "human", "", "participant slot controlled from stdin")

	resumeCmd.Flags().IntVar(&resumeTurn, "turn", 0, "rewind to this turn (default: latest)")
	resumeCmd.Flags().StringVar(&humanSlot, "human", "", "participant slot controlled from stdin")

	rootCmd.AddCommand(runCmd, resumeCmd, transcriptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// scenario is the optional YAML session setup.
type scenario struct {
	Campaign string `yaml:"campaign"`
	Director string `yaml:"director"`
	Party    []struct {
		ID        string         `yaml:"id"`
		Name      string         `yaml:"name"`
		HP        int            `yaml:"hp"`
		MaxHP     int            `yaml:"max_hp"`
		Resources map[string]int `yaml:"resources"`
		Facts     []string       `yaml:"facts"`
	} `yaml:"party"`
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	directorID := "director"
	turnOrder := []string{}
	sheets := map[string]*types.CharacterSheet{}

	if scenarioPath != "" {
		data, err := os.ReadFile(scenarioPath)
		if err != nil {
			return fmt.Errorf("read scenario: %w", err)
		}
		var sc scenario
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("parse scenario: %w", err)
		}
		if sc.Campaign != "" {
			campaignID = sc.Campaign
		}
		if sc.Director != "" {
			directorID = sc.Director
		}
		for _, p := range sc.Party {
			turnOrder = append(turnOrder, p.ID)
			sheets[p.ID] = &types.CharacterSheet{
				AgentID: p.ID, Name: p.Name, HP: p.HP, MaxHP: p.MaxHP,
				Resources: p.Resources, Facts: p.Facts,
			}
		}
	} else {
		for _, id := range strings.Split(partyList, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			turnOrder = append(turnOrder, id)
			sheets[id] = &types.CharacterSheet{AgentID: id, Name: id, HP: 10, MaxHP: 10}
		}
	}
	if len(turnOrder) == 0 {
		return fmt.Errorf("no participants: pass --party or --scenario")
	}

	state := session.NewState(campaignID, directorID, turnOrder, sheets)
	fmt.Printf("session %s (campaign %s)\n", state.SessionID, campaignID)
	return driveSession(cmd.Context(), cfg, state)
}

func resumeSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.Session.CheckpointDir, args[0])
	if err != nil {
		return err
	}

	turn := resumeTurn
	if turn == 0 {
		if turn, err = store.Latest(); err != nil {
			return err
		}
	}
	state, err := store.Restore(turn)
	if err != nil {
		return err
	}
	fmt.Printf("resuming session %s at turn %d (round %d)\n", state.SessionID, state.Turn, state.Round)
	return driveSession(cmd.Context(), cfg, state)
}

func showTranscript(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.Session.CheckpointDir, args[0])
	if err != nil {
		return err
	}
	entries, err := checkpoint.NewTranscript(store).Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("[%d] %s: %s\n", e.Turn, e.Speaker, e.Text)
	}
	return nil
}

// driveSession wires providers and stores around a state and runs it until
// the context is canceled or MaxRounds is reached.
func driveSession(parent context.Context, cfg config.Config, state *types.SessionState) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set provider.api_key or GEMINI_API_KEY")
	}

	director, err := provider.NewGemini(ctx, apiKey, cfg.Provider.Model)
	if err != nil {
		return err
	}
	participants := make(map[string]types.ModelProvider, len(state.TurnOrder))
	for _, id := range state.TurnOrder {
		p, err := provider.NewGemini(ctx, apiKey, cfg.Provider.Model)
		if err != nil {
			return err
		}
		participants[id] = p
	}
	summaryModel, err := provider.NewGemini(ctx, apiKey, cfg.Provider.SummaryModel)
	if err != nil {
		return err
	}
	extractorModel, err := provider.NewGemini(ctx, apiKey, cfg.Provider.ExtractorModel)
	if err != nil {
		return err
	}

	ckpt, err := checkpoint.NewStore(cfg.Session.CheckpointDir, state.SessionID)
	if err != nil {
		return err
	}
	campaign, err := narrative.OpenCampaignStore(cfg.Session.CampaignDB)
	if err != nil {
		return err
	}
	defer campaign.Close()

	orch, err := session.New(session.Options{
		Config:      cfg.Session,
		CallTimeout: cfg.Provider.Timeout,
		State:       state,
		Providers: session.Providers{
			Director:     director,
			Participants: participants,
		},
		Summarizer:  provider.NewSummarizer(summaryModel),
		Extractor:   narrative.NewProviderExtractor(extractorModel),
		Checkpoints: ckpt,
		Campaign:    campaign,
	})
	if err != nil {
		return err
	}

	if humanSlot != "" {
		if err := orch.EnableHumanTakeover(humanSlot); err != nil {
			return err
		}
		go readHumanInput(ctx, orch)
	}
	go printEvents(orch)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("session ended")
	return nil
}

// readHumanInput feeds stdin lines into the session. A "note:" prefix
// becomes an out-of-character steering note for the director instead of a
// turn action.
func readHumanInput(ctx context.Context, orch *session.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if note, ok := strings.CutPrefix(line, "note:"); ok {
			orch.SubmitTableNote(strings.TrimSpace(note))
			continue
		}
		if err := orch.SubmitHumanAction(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func printEvents(orch *session.Orchestrator) {
	for ev := range orch.Events() {
		switch ev.Phase {
		case session.PhaseDirectorTurn, session.PhaseParticipantTurn, session.PhaseHumanTurn:
			if ev.Text != "" {
				fmt.Printf("\n[%d] %s:\n%s\n", ev.Turn, ev.AgentID, ev.Text)
			}
		case session.PhaseRoundComplete:
			fmt.Printf("--- round %d complete ---\n", ev.Round)
		}
	}
}
