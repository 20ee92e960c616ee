package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	doc := `
session:
  participant_token_limit: 2000
  max_rounds: 5
provider:
  model: gemini-2.5-pro
  timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Session.ParticipantTokenLimit)
	assert.Equal(t, 5, cfg.Session.MaxRounds)
	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	// Untouched fields keep their defaults.
	assert.Equal(t, 8000, cfg.Session.DirectorTokenLimit)
	assert.Equal(t, 3, cfg.Session.RetentionCount)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	doc := `
session:
  near_limit_fraction: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SessionConfig)
		ok     bool
	}{
		{"defaults", func(*SessionConfig) {}, true},
		{"zero token limit", func(s *SessionConfig) { s.ParticipantTokenLimit = 0 }, false},
		{"retention below one", func(s *SessionConfig) { s.RetentionCount = 0 }, false},
		{"passes below one", func(s *SessionConfig) { s.MaxCompressionPasses = 0 }, false},
		{"ceiling below budget", func(s *SessionConfig) { s.HardCharCeiling = 1000 }, false},
		{"dormancy below one", func(s *SessionConfig) { s.DormancyThreshold = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg.Session)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
