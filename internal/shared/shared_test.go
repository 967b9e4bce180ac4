package shared

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeintel/internal/config"
	"codeintel/internal/eventbus"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Monitoring.Enabled = false
	bus := eventbus.New()
	svc := New(cfg, bus)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { svc.Dispose() })
	return svc
}

func TestInitIsIdempotent(t *testing.T) {
	svc := newTestServices(t)
	if err := svc.Init(context.Background()); err != nil {
		t.Errorf("second Init call should be a no-op, got error: %v", err)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	svc := newTestServices(t)
	if err := svc.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := svc.Dispose(); err != nil {
		t.Errorf("second Dispose call should be a no-op, got error: %v", err)
	}
}

func TestInitDisposeRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Monitoring.Enabled = false
	bus := eventbus.New()
	svc := New(cfg, bus)

	ctx := context.Background()
	if err := svc.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if svc.DB == nil || svc.Cache == nil || svc.Monitoring == nil {
		t.Fatalf("expected all three tiers initialized")
	}
	if err := svc.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	// Re-initializing after a full dispose should work again.
	if err := svc.Init(ctx); err != nil {
		t.Fatalf("re-Init after Dispose: %v", err)
	}
	svc.Dispose()
}

func TestCacheHitMissWiredToMonitoring(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	svc.Cache.Set(ctx, "k", "v", 0)
	svc.Cache.Get(ctx, "k")     // hit
	svc.Cache.Get(ctx, "miss")  // miss

	summary := svc.Monitoring.Summary()
	if summary.CacheHitRate <= 0 {
		t.Errorf("expected cache hit to be reflected in monitoring, got hit rate %v", summary.CacheHitRate)
	}
}

func TestFlushClearsCacheAndMetrics(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	svc.Cache.Set(ctx, "k", "v", 0)
	svc.Cache.Get(ctx, "k")

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if svc.Cache.Stats().Entries != 0 {
		t.Errorf("expected Flush to clear the cache")
	}
	if svc.Monitoring.Summary().CacheHitRate != 0 {
		t.Errorf("expected Flush to reset monitoring")
	}
}

func TestBackupCopiesDatabaseFile(t *testing.T) {
	svc := newTestServices(t)
	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := svc.Backup(dest); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("expected backup file to exist: %v", err)
	}
}

func TestMaintenanceRunsWithoutError(t *testing.T) {
	svc := newTestServices(t)
	if err := svc.Maintenance(context.Background()); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
}

func TestMaintenancePurgesEventsOlderThanRetention(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	stale := time.Now().Add(-EventRetention - time.Hour).Unix()
	fresh := time.Now().Unix()

	if _, err := svc.DB.Execute(ctx,
		`INSERT INTO feedback_events (id, event_type, type, suggestion_id, created_at) VALUES (?, 'accept', 'accept', 'sugg-1', ?)`,
		"fe-stale", stale); err != nil {
		t.Fatalf("insert stale feedback event: %v", err)
	}
	if _, err := svc.DB.Execute(ctx,
		`INSERT INTO feedback_events (id, event_type, type, suggestion_id, created_at) VALUES (?, 'accept', 'accept', 'sugg-2', ?)`,
		"fe-fresh", fresh); err != nil {
		t.Fatalf("insert fresh feedback event: %v", err)
	}
	if _, err := svc.DB.Execute(ctx,
		`INSERT INTO evolution_events (id, event_type, type, timestamp, file) VALUES (?, 'file_modified', 'file_modified', ?, 'a.go')`,
		"ee-stale", stale); err != nil {
		t.Fatalf("insert stale evolution event: %v", err)
	}

	if err := svc.Maintenance(ctx); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}

	rows, err := svc.DB.Query(ctx, "SELECT id FROM feedback_events")
	if err != nil {
		t.Fatalf("Query feedback_events: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "fe-fresh" {
		t.Errorf("expected only the fresh feedback event to survive purge, got %+v", rows)
	}

	rows, err = svc.DB.Query(ctx, "SELECT id FROM evolution_events")
	if err != nil {
		t.Fatalf("Query evolution_events: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected the stale evolution event to be purged, got %+v", rows)
	}
}

func TestHealthReportsHealthyByDefault(t *testing.T) {
	svc := newTestServices(t)
	report := svc.Health()
	if report.Status != "healthy" {
		t.Errorf("expected a freshly initialized service set to report healthy, got %s", report.Status)
	}
}
