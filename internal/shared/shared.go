// Package shared is the lifecycle coordinator wiring the substrate services
// (database, cache, monitoring, event bus) together: an ordered
// init/dispose sequence that brings resources up on entry and tears them
// down in reverse order on exit.
package shared

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"codeintel/internal/cache"
	"codeintel/internal/config"
	"codeintel/internal/coreerr"
	"codeintel/internal/dbstore"
	"codeintel/internal/eventbus"
	"codeintel/internal/logging"
	"codeintel/internal/monitoring"
)

// Services bundles the initialized substrate. The event bus is expected to
// pre-exist (the caller constructs it) since every other service wires
// events through it during Init.
type Services struct {
	Bus        *eventbus.Bus
	DB         *dbstore.Store
	Cache      *cache.Service[any]
	Monitoring *monitoring.Service

	cfg *config.Config

	healthCancel context.CancelFunc
	initialized  bool
}

// New constructs a Services coordinator. Call Init to actually bring up the
// DB/Cache/Monitoring tiers in order.
func New(cfg *config.Config, bus *eventbus.Bus) *Services {
	return &Services{cfg: cfg, Bus: bus}
}

// Init brings up services in order DB -> Cache -> Monitoring (EventBus
// already exists) and wires cross-service events. Calling Init twice on an
// already-initialized Services is a no-op.
func (s *Services) Init(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryShared, "Init")
	defer timer.Stop()

	db, err := dbstore.Open(dbstore.Config{
		Path:              s.cfg.Database.Path,
		MaxConnections:    s.cfg.Database.MaxConnections,
		BusyTimeout:       s.cfg.BusyTimeout(),
		EnableWAL:         s.cfg.Database.EnableWAL,
		EnableForeignKeys: s.cfg.Database.EnableForeignKeys,
		Bus:               s.Bus,
	})
	if err != nil {
		return fmt.Errorf("shared: init database: %w", err)
	}
	s.DB = db

	var remote cache.RemoteClient
	if s.cfg.Cache.Strategy != cache.StrategyMemory {
		remote = cache.NewFakeRemoteClient()
	}
	cacheSvc, err := cache.New[any](cache.Config{
		Strategy:          cache.Strategy(s.cfg.Cache.Strategy),
		MaxEntries:        s.cfg.Cache.Memory.MaxEntries,
		DefaultTTLSeconds: s.cfg.Cache.Memory.TTLSeconds,
		Remote:            remote,
		Bus:               s.Bus,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("shared: init cache: %w", err)
	}
	s.Cache = cacheSvc

	mon := monitoring.New(s.Bus)
	s.Monitoring = mon
	if s.cfg.Monitoring.Enabled {
		mon.StartReporting(ctx, s.cfg.MetricsInterval())
	}

	s.wireEvents()
	s.startHealthChecks(ctx)

	s.initialized = true
	logging.Get(logging.CategoryShared).Infow("shared services initialized")
	return nil
}

// wireEvents routes cache:hit/cache:miss into monitoring's cache counters and
// dbstore's database:query-error, database:execute-error and
// database:transaction-error events into monitoring's error log.
func (s *Services) wireEvents() {
	s.Bus.On("cache:hit", func(string, any) { s.Monitoring.RecordCacheHit() })
	s.Bus.On("cache:miss", func(string, any) { s.Monitoring.RecordCacheMiss() })
	s.Bus.On("database:query-error", func(_ string, payload any) { s.recordDBError(payload) })
	s.Bus.On("database:execute-error", func(_ string, payload any) { s.recordDBError(payload) })
	s.Bus.On("database:transaction-error", func(_ string, payload any) { s.recordDBError(payload) })
}

func (s *Services) recordDBError(payload any) {
	msg := "database error"
	if m, ok := payload.(map[string]any); ok {
		if e, ok := m["error"].(string); ok {
			msg = e
		}
	}
	s.Monitoring.RecordError("dbstore", msg, time.Now())
}

func (s *Services) startHealthChecks(ctx context.Context) {
	interval := s.cfg.MetricsInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	s.healthCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Bus.Emit("shared-services:health-check", s.Health())
			}
		}
	}()
}

// ComponentHealth is one component's contribution to Health.
type ComponentHealth struct {
	Component string
	Healthy   bool
}

// HealthReport is the aggregate Health() result.
type HealthReport struct {
	Status     string // healthy | degraded | critical
	Components []ComponentHealth
}

// Health aggregates per-component health into an overall status.
func (s *Services) Health() HealthReport {
	summary := s.Monitoring.Summary()
	cacheStats := s.Cache.Stats()

	components := []ComponentHealth{
		{Component: "cache", Healthy: cacheStats.Healthy()},
		{Component: "monitoring", Healthy: summary.ErrorRate < 0.05},
	}

	unhealthy := 0
	for _, c := range components {
		if !c.Healthy {
			unhealthy++
		}
	}

	status := "healthy"
	switch {
	case unhealthy == 0 && summary.ErrorRate < 0.2:
		status = "healthy"
	case unhealthy <= 1 && summary.ErrorRate < 0.5:
		status = "degraded"
	default:
		status = "critical"
	}

	return HealthReport{Status: status, Components: components}
}

// Flush clears caches and resets metrics.
func (s *Services) Flush(ctx context.Context) error {
	s.Cache.Clear(ctx)
	s.Monitoring.Reset()
	return nil
}

// Backup snapshots the database file to destPath.
func (s *Services) Backup(destPath string) error {
	src, err := os.Open(s.DB.Path())
	if err != nil {
		return coreerr.New(coreerr.PersistentIO, "shared", "Backup", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return coreerr.New(coreerr.PersistentIO, "shared", "Backup", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return coreerr.New(coreerr.PersistentIO, "shared", "Backup", err)
	}
	return nil
}

// EventRetention is how long feedback/evolution events are kept by Maintenance.
const EventRetention = 30 * 24 * time.Hour

// Maintenance runs VACUUM/ANALYZE equivalents, clears caches, and purges
// events older than EventRetention.
func (s *Services) Maintenance(ctx context.Context) error {
	if _, err := s.DB.Execute(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("shared: maintenance vacuum: %w", err)
	}
	if _, err := s.DB.Execute(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("shared: maintenance analyze: %w", err)
	}

	cutoff := time.Now().Add(-EventRetention).Unix()
	if _, err := s.DB.Execute(ctx, "DELETE FROM feedback_events WHERE created_at < ?", cutoff); err != nil {
		return fmt.Errorf("shared: purge feedback events: %w", err)
	}
	if _, err := s.DB.Execute(ctx, "DELETE FROM evolution_events WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("shared: purge evolution events: %w", err)
	}

	s.Cache.Clear(ctx)
	s.Bus.Emit("learning-maintenance:completed", nil)
	return nil
}

// Dispose tears down services in reverse order: stop health checks and
// monitoring reporting, then close the database. Idempotent.
func (s *Services) Dispose() error {
	if !s.initialized {
		return nil
	}
	if s.healthCancel != nil {
		s.healthCancel()
	}
	s.Monitoring.Stop()

	var err error
	if s.DB != nil {
		err = s.DB.Close()
	}
	s.initialized = false
	logging.Get(logging.CategoryShared).Infow("shared services disposed")
	return err
}
