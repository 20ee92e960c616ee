// Package config holds all storyweave configuration. Static parameters are
// read once at session start; the core only consumes them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all storyweave configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Provider ProviderConfig `yaml:"provider"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SessionConfig configures the memory, narrative, and turn machinery for
// one session.
type SessionConfig struct {
	// Token limits per role.
	DirectorTokenLimit    int `yaml:"director_token_limit"`
	ParticipantTokenLimit int `yaml:"participant_token_limit"`

	// NearLimitFraction of the token limit at which compression triggers.
	NearLimitFraction float64 `yaml:"near_limit_fraction"`

	// RetentionCount is the number of most recent buffer entries kept
	// verbatim through compression.
	RetentionCount int `yaml:"retention_count"`

	// MaxCompressionPasses bounds summary-of-summary recursion.
	MaxCompressionPasses int `yaml:"max_compression_passes"`

	// HardCharCeiling caps the text sent to the summarizer regardless of
	// the nominal model limit. Must exceed the largest agent token budget
	// with headroom.
	HardCharCeiling int `yaml:"hard_char_ceiling"`

	// SceneWindow is how many trailing shared-log entries every agent sees.
	SceneWindow int `yaml:"scene_window"`

	// DormancyThreshold is the turn gap after which an element goes dormant.
	DormancyThreshold int `yaml:"dormancy_threshold"`

	// StoryMomentGap is the turn gap above which a detected callback is
	// classified as a story moment rather than routine continuity.
	StoryMomentGap int `yaml:"story_moment_gap"`

	// FuzzyDistance is the maximum per-token edit distance for fuzzy
	// name matching.
	FuzzyDistance int `yaml:"fuzzy_distance"`

	// MaxRounds ends the session when reached. 0 means unbounded.
	MaxRounds int `yaml:"max_rounds"`

	// HumanTimeout bounds a human turn. 0 disables the watchdog.
	HumanTimeout time.Duration `yaml:"human_timeout"`

	// CheckpointDir is the root under which session_<id>/ directories live.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// CampaignDB is the SQLite file holding campaign-wide narrative
	// elements that persist across sessions.
	CampaignDB string `yaml:"campaign_db"`
}

// ProviderConfig configures the model backend.
type ProviderConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	SummaryModel   string        `yaml:"summary_model"`
	ExtractorModel string        `yaml:"extractor_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a configuration suitable for typical sessions.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			DirectorTokenLimit:    8000,
			ParticipantTokenLimit: 4000,
			NearLimitFraction:     0.80,
			RetentionCount:        3,
			MaxCompressionPasses:  3,
			HardCharCeiling:       48000,
			SceneWindow:           12,
			DormancyThreshold:     10,
			StoryMomentGap:        8,
			FuzzyDistance:         2,
			MaxRounds:             0,
			HumanTimeout:          0,
			CheckpointDir:         "sessions",
			CampaignDB:            "campaign.db",
		},
		Provider: ProviderConfig{
			Model:          "gemini-2.5-flash",
			SummaryModel:   "gemini-2.5-flash",
			ExtractorModel: "gemini-2.5-flash",
			Timeout:        2 * time.Minute,
		},
		Logging: LoggingConfig{Debug: false},
	}
}

// Load reads a YAML config file, layering it over the defaults. A missing
// file is not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	s := c.Session
	if s.DirectorTokenLimit <= 0 || s.ParticipantTokenLimit <= 0 {
		return fmt.Errorf("token limits must be positive")
	}
	if s.NearLimitFraction <= 0 || s.NearLimitFraction >= 1 {
		return fmt.Errorf("near_limit_fraction must be in (0,1), got %v", s.NearLimitFraction)
	}
	if s.RetentionCount < 1 {
		return fmt.Errorf("retention_count must be at least 1")
	}
	if s.MaxCompressionPasses < 1 {
		return fmt.Errorf("max_compression_passes must be at least 1")
	}
	limit := s.DirectorTokenLimit
	if s.ParticipantTokenLimit > limit {
		limit = s.ParticipantTokenLimit
	}
	// The ceiling needs headroom over the largest configured budget
	// (tokens estimate at ~4 chars each).
	if s.HardCharCeiling < limit*4 {
		return fmt.Errorf("hard_char_ceiling %d below largest token budget %d", s.HardCharCeiling, limit)
	}
	if s.DormancyThreshold < 1 {
		return fmt.Errorf("dormancy_threshold must be at least 1")
	}
	return nil
}
