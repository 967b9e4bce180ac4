// Package dbstore implements the pooled embedded-SQL persistence layer:
// fixed-size connection pool, WAL/busy-timeout/page-cache pragmas, a
// declarative schema with a schema_version ledger, and retry/transaction
// semantics with a bounded acquire timeout.
package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"codeintel/internal/coreerr"
	"codeintel/internal/eventbus"
	"codeintel/internal/logging"
)

// Driver selects which registered database/sql driver backs the Store.
type Driver string

const (
	// DriverCGO uses github.com/mattn/go-sqlite3, the primary driver.
	DriverCGO Driver = "sqlite3"
	// DriverPure uses modernc.org/sqlite, a pure-Go fallback for
	// environments where cgo is unavailable.
	DriverPure Driver = "sqlite"
)

// AcquireTimeout bounds how long Acquire waits for a free pool slot.
const AcquireTimeout = 5 * time.Second

// Config configures a Store.
type Config struct {
	Path              string
	MaxConnections    int
	BusyTimeout       time.Duration
	EnableWAL         bool
	EnableForeignKeys bool
	Driver            Driver
	// Bus, if set, receives database:query-error / database:execute-error /
	// database:transaction-error on final (non-retryable or exhausted) failures.
	Bus *eventbus.Bus
}

// Store is a pooled embedded-SQL connection with declarative schema
// management and retry-aware query/execute/transaction helpers.
type Store struct {
	db        *sql.DB
	path      string
	driver    Driver
	sem       chan struct{} // logical pool slots, bounds concurrent checkouts
	bus       *eventbus.Bus
	vectorExt bool

	mu sync.Mutex
}

// Open creates (or attaches to) the SQLite database at cfg.Path, applies
// pragmas, installs the schema, and runs pending migrations. Driver
// defaults to DriverCGO; if the driver fails to register or open, Open
// retries once against DriverPure (the pure-Go fallback).
func Open(cfg Config) (*Store, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverCGO
	}

	timer := logging.StartTimer(logging.CategoryDB, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, coreerr.New(coreerr.PersistentIO, "dbstore", "Open", fmt.Errorf("mkdir %s: %w", dir, err))
		}
	}

	db, openErr := sql.Open(string(driver), cfg.Path)
	if openErr == nil {
		openErr = db.Ping()
	}
	if openErr != nil && driver == DriverCGO {
		logging.Get(logging.CategoryDB).Warnw("primary driver unavailable, falling back", "error", openErr)
		driver = DriverPure
		db, openErr = sql.Open(string(driver), cfg.Path)
		if openErr == nil {
			openErr = db.Ping()
		}
	}
	if openErr != nil {
		return nil, coreerr.New(coreerr.PersistentIO, "dbstore", "Open", openErr)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -8192", // 8 MiB page cache, negative = KiB
	}
	if cfg.EnableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	if cfg.EnableForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			logging.Get(logging.CategoryDB).Warnw("pragma failed", "pragma", p, "error", err)
		}
	}

	store := &Store{
		db:     db,
		path:   cfg.Path,
		driver: driver,
		sem:    make(chan struct{}, cfg.MaxConnections),
		bus:    cfg.Bus,
	}

	if err := store.installSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	store.vectorExt = store.detectVectorCapability()

	logging.Get(logging.CategoryDB).Infow("store opened", "path", cfg.Path, "driver", driver, "vectorCapable", store.vectorExt)
	return store, nil
}

// detectVectorCapability probes for a sqlite-vec virtual table module by
// attempting to create and immediately drop a throwaway vec0 table. The
// probe only succeeds when the vec extension was registered for the active
// driver (see init_vec.go, built under the sqlite_vec tag); otherwise it
// fails harmlessly and vector-similarity callers fall back to scanning
// ConceptRelationship.Evidence in Go.
func (s *Store) detectVectorCapability() bool {
	const probeTable = "vec_probe_codeintel"
	if _, err := s.db.Exec(fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[4])", probeTable)); err != nil {
		return false
	}
	_, _ = s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", probeTable))
	return true
}

// VectorCapable reports whether the sqlite-vec virtual table module is
// available on this connection, letting callers choose between a vec0
// similarity query and a plain in-process scan.
func (s *Store) VectorCapable() bool {
	return s.vectorExt
}

// acquire blocks until a pool slot is free or ctx/AcquireTimeout elapses.
func (s *Store) acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return coreerr.New(coreerr.Timeout, "dbstore", "acquire", ctx.Err())
	}
}

func (s *Store) release() {
	<-s.sem
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path this Store was opened against.
func (s *Store) Path() string { return s.path }

func (s *Store) emit(topic string, payload any) {
	if s.bus != nil {
		s.bus.Emit(topic, payload)
	}
}

// DriverName returns the database/sql driver name currently in use.
func (s *Store) DriverName() Driver { return s.driver }
