package dbstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeintel/internal/coreerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(Config{
		Path:              path,
		MaxConnections:    4,
		EnableWAL:         true,
		EnableForeignKeys: true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenInstallsSchemaAndVersion(t *testing.T) {
	store := openTestStore(t)
	v, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", CurrentSchemaVersion, v)
	}
}

func TestExecuteAndQueryRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Execute(ctx,
		`INSERT INTO concepts (id, canonical_name, signature_fingerprint, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		"c1", "Widget", "fp1", 0.9)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rows, err := store.Query(ctx, "SELECT id, canonical_name FROM concepts WHERE id = ?", "c1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || rows[0]["canonical_name"] != "Widget" {
		t.Errorf("expected to read back inserted row, got %+v", rows)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Transaction(ctx, func(ctx context.Context, tx TxQueryFunc) error {
		_, err := tx(ctx,
			`INSERT INTO concepts (id, canonical_name, signature_fingerprint, confidence, created_at, updated_at)
			 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
			"c2", "Gadget", "fp2", 0.5)
		if err != nil {
			return err
		}
		return errIntentional
	})
	if err == nil {
		t.Fatalf("expected transaction to fail")
	}

	rows, qerr := store.Query(ctx, "SELECT id FROM concepts WHERE id = ?", "c2")
	if qerr != nil {
		t.Fatalf("Query: %v", qerr)
	}
	if len(rows) != 0 {
		t.Errorf("expected rollback to discard the insert, found %d rows", len(rows))
	}
}

func TestInsertWithFKValidationInsertsDefaultParent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.InsertWithFKValidation(ctx,
		`INSERT INTO shared_patterns (id, pattern, contributor_id, status) VALUES (?, ?, ?, 'pending')`,
		[]any{"sp1", "{}", "member-1"},
		[]ForeignKeyRef{
			{
				Table:  "team_members",
				Column: "id",
				Value:  "member-1",
				DefaultInsert: `INSERT INTO team_members (id, name, role, joined_at, last_active)
					VALUES (?, ?, 'developer', strftime('%s','now'), strftime('%s','now'))`,
				DefaultArgs: []any{"member-1", "Unknown"},
			},
		})
	if err != nil {
		t.Fatalf("InsertWithFKValidation: %v", err)
	}

	rows, err := store.Query(ctx, "SELECT id FROM team_members WHERE id = ?", "member-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected default parent row to be inserted")
	}
}

func TestInsertWithFKValidationFailsWithoutDefault(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.InsertWithFKValidation(ctx,
		`INSERT INTO shared_patterns (id, pattern, contributor_id, status) VALUES (?, ?, ?, 'pending')`,
		[]any{"sp2", "{}", "missing-member"},
		[]ForeignKeyRef{{Table: "team_members", Column: "id", Value: "missing-member"}})
	if err == nil {
		t.Fatalf("expected fk violation without a default insert")
	}
}

func TestStatsReportsRowCountsAndVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Execute(ctx,
		`INSERT INTO concepts (id, canonical_name, signature_fingerprint, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		"c3", "Thing", "fp3", 0.1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RowCounts["concepts"] != 1 {
		t.Errorf("expected 1 concept row, got %d", stats.RowCounts["concepts"])
	}
	if stats.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", CurrentSchemaVersion, stats.SchemaVersion)
	}
	if stats.Pool.MaxConnections != 4 {
		t.Errorf("expected pool size 4, got %d", stats.Pool.MaxConnections)
	}
}

func TestLegacyEventTypeColumnsBothPopulated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Execute(ctx,
		`INSERT INTO feedback_events (id, event_type, type, suggestion_id) VALUES (?, ?, ?, ?)`,
		"fe1", "accept", "accept", "sugg-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rows, err := store.Query(ctx, "SELECT event_type, type FROM feedback_events WHERE id = ?", "fe1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if rows[0]["event_type"] != rows[0]["type"] {
		t.Errorf("expected legacy event_type/type columns to be populated identically, got %+v", rows[0])
	}
}

func TestAcquireFailsWithTimeoutWhenPoolAtCapacity(t *testing.T) {
	store := openTestStore(t)

	// Fill every pool slot so the next acquire has nowhere to go.
	for i := 0; i < cap(store.sem); i++ {
		if err := store.acquire(context.Background()); err != nil {
			t.Fatalf("filling pool slot %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := store.acquire(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected acquire to fail once the pool is at capacity")
	}
	if kind, ok := coreerr.KindOf(err); !ok || kind != coreerr.Timeout {
		t.Errorf("expected coreerr.Timeout, got %v (ok=%v)", kind, ok)
	}
	if elapsed > AcquireTimeout {
		t.Errorf("acquire blocked for %v, expected to bail out within AcquireTimeout (%v)", elapsed, AcquireTimeout)
	}
}

// TestExecuteRetriesOnBusyThenSucceeds covers the "DB busy twice, then
// succeeds" e2e scenario: a competing connection holds a write lock on the
// same file long enough to force the SQLite driver to return "database is
// locked" on Execute's first attempts, and Execute is expected to retry
// past that transient contention and commit once the lock is released.
func TestExecuteRetriesOnBusyThenSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")

	blocker, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open blocker connection: %v", err)
	}
	defer blocker.Close()
	blocker.SetMaxOpenConns(1)
	if _, err := blocker.Exec("BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("BEGIN IMMEDIATE: %v", err)
	}

	store, err := Open(Config{
		Path:           path,
		MaxConnections: 4,
		BusyTimeout:    1 * time.Millisecond,
		EnableWAL:      true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		blocker.Exec("COMMIT")
		close(released)
	}()

	ctx := context.Background()
	_, err = store.Execute(ctx,
		`INSERT INTO concepts (id, canonical_name, signature_fingerprint, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		"c-busy", "Contended", "fp-busy", 0.4)
	<-released
	if err != nil {
		t.Fatalf("expected Execute to retry past contention and succeed, got: %v", err)
	}

	rows, qerr := store.Query(ctx, "SELECT id FROM concepts WHERE id = ?", "c-busy")
	if qerr != nil {
		t.Fatalf("Query: %v", qerr)
	}
	if len(rows) != 1 {
		t.Errorf("expected the retried insert to be visible, found %d rows", len(rows))
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errIntentional = sentinelErr("intentional rollback trigger")
