// Package logging provides category-scoped structured logging for the
// codeintel core, backed by zap. Every component (cache, dbstore, eventbus,
// monitoring, layers, analyzer, learning/*) logs through a Logger scoped to
// its own Category rather than a single global logger, so operators can
// tune verbosity per subsystem.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log line.
type Category string

const (
	CategoryCache        Category = "cache"
	CategoryDB           Category = "dbstore"
	CategoryEventBus     Category = "eventbus"
	CategoryMonitoring   Category = "monitoring"
	CategoryShared       Category = "shared"
	CategoryLayers       Category = "layers"
	CategoryAnalyzer     Category = "analyzer"
	CategoryFeedback     Category = "feedback"
	CategoryEvolution    Category = "evolution"
	CategoryTeam         Category = "team"
	CategoryOrchestrator Category = "orchestrator"
	CategoryOntology     Category = "ontology"
	CategoryParsing      Category = "parsing"
	CategoryAdapter      Category = "adapter"
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Configure installs the process-wide base logger. Safe to call once at
// startup; calling it again swaps the base logger and clears cached
// per-category loggers.
func Configure(debug bool) {
	mu.Lock()
	defer mu.Unlock()

	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
	loggers = make(map[Category]*zap.SugaredLogger)
}

func ensureBase() *zap.Logger {
	if base == nil {
		Configure(false)
	}
	return base
}

// Get returns (creating if needed) the logger scoped to category.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := ensureBase().With(zap.String("category", string(category))).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes all buffered log entries. Call once at process shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Timer measures and logs the duration of an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation scoped to category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer, logs the elapsed duration at debug level, and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugw(t.op+" completed", "duration_ms", elapsed.Milliseconds())
	return elapsed
}
