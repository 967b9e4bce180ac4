package cache

import (
	"context"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, err := New[string](Config{Strategy: StrategyMemory, MaxEntries: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc.Set(ctx, "k", "v", 0)
	got, ok := svc.Get(ctx, "k")
	if !ok || got != "v" {
		t.Errorf("expected hit with value v, got %q ok=%v", got, ok)
	}
}

func TestMissOnUnknownKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := New[string](Config{Strategy: StrategyMemory, MaxEntries: 10})
	if _, ok := svc.Get(ctx, "missing"); ok {
		t.Errorf("expected miss for unknown key")
	}
	if svc.Stats().Misses != 1 {
		t.Errorf("expected 1 miss recorded")
	}
}

func TestExpireOnAccess(t *testing.T) {
	ctx := context.Background()
	svc, _ := New[string](Config{Strategy: StrategyMemory, MaxEntries: 10})
	svc.Set(ctx, "k", "v", 0)

	svc.mu.Lock()
	svc.entries["k"].entry.CreatedAt = time.Now().Add(-2 * time.Second)
	svc.entries["k"].entry.TTLSeconds = 1
	svc.mu.Unlock()

	if _, ok := svc.Get(ctx, "k"); ok {
		t.Errorf("expected expired entry to be treated as a miss")
	}
	if svc.Stats().Entries != 0 {
		t.Errorf("expected expired entry removed from the map")
	}
}

// LRU eviction scenario: capacity 3; set(a) set(b) set(c) get(a) set(d)
// leaves {a, c, d} present, b evicted.
func TestLRUEvictionScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := New[string](Config{Strategy: StrategyMemory, MaxEntries: 3})

	svc.Set(ctx, "a", "1", 0)
	svc.Set(ctx, "b", "2", 0)
	svc.Set(ctx, "c", "3", 0)
	svc.Get(ctx, "a")
	svc.Set(ctx, "d", "4", 0)

	for _, k := range []string{"a", "c", "d"} {
		if _, ok := svc.Get(ctx, k); !ok {
			t.Errorf("expected key %q to remain present", k)
		}
	}
	if _, ok := svc.Get(ctx, "b"); ok {
		t.Errorf("expected key %q to have been evicted", "b")
	}
	if svc.Stats().Evictions != 1 {
		t.Errorf("expected exactly one eviction, got %d", svc.Stats().Evictions)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	svc, _ := New[string](Config{Strategy: StrategyMemory, MaxEntries: 10})
	svc.Set(ctx, "a", "1", 0)
	svc.Set(ctx, "b", "2", 0)

	svc.Delete(ctx, "a")
	if _, ok := svc.Get(ctx, "a"); ok {
		t.Errorf("expected deleted key to be gone")
	}

	svc.Clear(ctx)
	if svc.Stats().Entries != 0 {
		t.Errorf("expected clear to empty the cache")
	}
}

func TestRemoteStrategyWithoutClientIsNotImplemented(t *testing.T) {
	_, err := New[string](Config{Strategy: StrategyRemote})
	if err == nil {
		t.Fatalf("expected error for remote strategy without a configured client")
	}
}

func TestHybridPromotesRemoteHitToMemory(t *testing.T) {
	ctx := context.Background()
	remote := NewFakeRemoteClient()
	svc, err := New[string](Config{Strategy: StrategyHybrid, MaxEntries: 10, Remote: remote})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = remote.Set(ctx, "k", []byte(`"remote-value"`), time.Minute)

	got, ok := svc.Get(ctx, "k")
	if !ok || got != "remote-value" {
		t.Fatalf("expected remote hit to surface value, got %q ok=%v", got, ok)
	}
	if svc.Stats().Entries != 1 {
		t.Errorf("expected remote hit to be promoted into the memory tier")
	}
}

func TestHealthThreshold(t *testing.T) {
	s := Stats{Hits: 5, Misses: 95}
	if !s.Healthy() {
		t.Errorf("expected <=100 total lookups to always be healthy")
	}
	s = Stats{Hits: 5, Misses: 96}
	s.Misses = 200
	if s.Healthy() {
		t.Errorf("expected low hit rate past the 100-lookup threshold to be unhealthy")
	}
}

func TestSizeEstimateRules(t *testing.T) {
	if n := estimateSize("hello"); n != 5 {
		t.Errorf("expected string size estimate to be char count, got %d", n)
	}
	if n := estimateSize(42); n != 8 {
		t.Errorf("expected primitive size estimate to be 8 bytes, got %d", n)
	}
	if n := estimateSize(map[string]int{"a": 1}); n <= 0 {
		t.Errorf("expected structured value size estimate to be positive, got %d", n)
	}
}
