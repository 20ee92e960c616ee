// Package logging provides categorized logging for storyweave, backed by
// zap. Each subsystem logs under its own named category so a session trace
// can be filtered down to one concern (memory, narrative, checkpoints).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategorySession    Category = "session"    // orchestrator, turn sequencing
	CategoryMemory     Category = "memory"     // buffers, compression
	CategoryNarrative  Category = "narrative"  // extraction, callbacks, dormancy
	CategoryPrompt     Category = "prompt"     // context assembly
	CategoryCheckpoint Category = "checkpoint" // persistence
	CategoryProvider   Category = "provider"   // model backend calls
)

var (
	mu   sync.RWMutex
	base = zap.NewNop().Sugar()
)

// Init installs the process-wide logger. debug selects a development config
// with debug level; otherwise a production config at info level.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		l, err = cfg.Build()
	}
	if err != nil {
		return err
	}
	mu.Lock()
	base = l.Sugar()
	mu.Unlock()
	return nil
}

// SetLogger replaces the process-wide logger. Tests use this to capture
// output or silence it.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	base = l.Sugar()
	mu.Unlock()
}

// For returns the logger for a category.
func For(cat Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(string(cat))
}

// Sync flushes buffered log entries. Safe to call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
