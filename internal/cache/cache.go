// Package cache implements the two-tier (in-process LRU plus optional
// remote) key/value cache: a generic, capacity-bounded, TTL-aware store
// with LRU eviction backed by an RWMutex-guarded map, with an optional
// remote tier for cache misses.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeintel/internal/coreerr"
	"codeintel/internal/eventbus"
)

// Strategy selects which tier(s) a Service uses.
type Strategy string

const (
	StrategyMemory Strategy = "memory"
	StrategyRemote Strategy = "remote"
	StrategyHybrid Strategy = "hybrid"
)

// CacheEntry is a single cached value with its bookkeeping fields.
type CacheEntry[T any] struct {
	Data         T
	CreatedAt    time.Time
	TTLSeconds   int
	Hits         int64
	SizeEstimate int
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e CacheEntry[T]) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// RemoteClient is the seam for an optional remote cache tier. Selecting
// StrategyRemote/StrategyHybrid without a configured client is a
// coreerr.NotImplemented error rather than an invented wire protocol.
type RemoteClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// FakeRemoteClient is an in-memory RemoteClient used in tests and as a
// stand-in until a real remote backend is configured.
type FakeRemoteClient struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewFakeRemoteClient creates an empty FakeRemoteClient.
func NewFakeRemoteClient() *FakeRemoteClient {
	return &FakeRemoteClient{data: make(map[string][]byte)}
}

func (f *FakeRemoteClient) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FakeRemoteClient) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *FakeRemoteClient) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *FakeRemoteClient) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string][]byte)
	return nil
}

// Stats summarizes cache behavior since the last Clear or process start.
// OldestEntry/NewestEntry are the CreatedAt timestamps of the longest- and
// most-recently-resident entries still in the cache, and are the zero Time
// when the cache is empty.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Evictions int64
	OldestEntry time.Time
	NewestEntry time.Time
}

// HitRate returns Hits/(Hits+Misses), or 1 when no lookups have occurred yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1
	}
	return float64(s.Hits) / float64(total)
}

// Healthy reports the spec's health threshold: a hit rate below 10% once
// more than 100 lookups have been made is considered unhealthy.
func (s Stats) Healthy() bool {
	total := s.Hits + s.Misses
	if total <= 100 {
		return true
	}
	return s.HitRate() >= 0.1
}

type record[T any] struct {
	entry    CacheEntry[T]
	recency  uint64
}

// Service is a generic, capacity-bounded, TTL-aware cache with an optional
// remote tier.
type Service[T any] struct {
	mu       sync.Mutex
	entries  map[string]*record[T]
	recency  uint64
	strategy Strategy
	maxEntries int
	defaultTTL int

	remote RemoteClient
	bus    *eventbus.Bus

	hits, misses, evictions int64
}

// Config configures a Service.
type Config struct {
	Strategy   Strategy
	MaxEntries int
	DefaultTTLSeconds int
	Remote     RemoteClient
	Bus        *eventbus.Bus
}

// New creates a Service per cfg. Selecting StrategyRemote/StrategyHybrid
// without cfg.Remote set returns a coreerr.NotImplemented error.
func New[T any](cfg Config) (*Service[T], error) {
	if (cfg.Strategy == StrategyRemote || cfg.Strategy == StrategyHybrid) && cfg.Remote == nil {
		return nil, coreerr.New(coreerr.NotImplemented, "cache", "New",
			coreErrNoRemote)
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Service[T]{
		entries:    make(map[string]*record[T]),
		strategy:   cfg.Strategy,
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTLSeconds,
		remote:     cfg.Remote,
		bus:        cfg.Bus,
	}, nil
}

var coreErrNoRemote = &notImplementedRemote{}

type notImplementedRemote struct{}

func (e *notImplementedRemote) Error() string {
	return "cache: remote/hybrid strategy selected without a configured RemoteClient"
}

func estimateSize(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case int, int32, int64, float32, float64, bool:
		return 8
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return 0
		}
		return len(data)
	}
}

func (s *Service[T]) emit(topic string, payload any) {
	if s.bus != nil {
		s.bus.Emit(topic, payload)
	}
}

// Get looks up key. It expires-on-access (removing an elapsed entry),
// updates recency and hit count on a hit, and emits cache:hit/cache:miss.
func (s *Service[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	now := time.Now()

	s.mu.Lock()
	rec, ok := s.entries[key]
	if ok && rec.entry.Expired(now) {
		delete(s.entries, key)
		ok = false
	}
	if ok {
		s.recency++
		rec.recency = s.recency
		rec.entry.Hits++
		s.hits++
		data := rec.entry.Data
		s.mu.Unlock()
		s.emit("cache:hit", map[string]any{"key": key, "source": "memory"})
		return data, true
	}
	s.mu.Unlock()

	if s.strategy == StrategyHybrid && s.remote != nil {
		raw, found, err := s.remote.Get(ctx, key)
		if err == nil && found {
			var v T
			if json.Unmarshal(raw, &v) == nil {
				s.setMemory(key, v, s.defaultTTL)
				s.mu.Lock()
				s.hits++
				s.mu.Unlock()
				s.emit("cache:hit", map[string]any{"key": key, "source": "remote"})
				return v, true
			}
		}
	}
	if s.strategy == StrategyRemote && s.remote != nil {
		raw, found, err := s.remote.Get(ctx, key)
		if err == nil && found {
			var v T
			if json.Unmarshal(raw, &v) == nil {
				s.mu.Lock()
				s.hits++
				s.mu.Unlock()
				s.emit("cache:hit", map[string]any{"key": key, "source": "remote"})
				return v, true
			}
		}
	}

	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
	s.emit("cache:miss", map[string]any{"key": key})
	return zero, false
}

// Set stores value under key with the given TTL (0 uses the service
// default). If at capacity, the entry with the lowest recency is evicted
// before insertion.
func (s *Service[T]) Set(ctx context.Context, key string, value T, ttlSeconds int) {
	if ttlSeconds == 0 {
		ttlSeconds = s.defaultTTL
	}
	s.setMemory(key, value, ttlSeconds)

	if (s.strategy == StrategyRemote || s.strategy == StrategyHybrid) && s.remote != nil {
		if raw, err := json.Marshal(value); err == nil {
			_ = s.remote.Set(ctx, key, raw, time.Duration(ttlSeconds)*time.Second)
		}
	}
	s.emit("cache:set", map[string]any{"key": key})
}

func (s *Service[T]) setMemory(key string, value T, ttlSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLRULocked()
	}

	s.recency++
	s.entries[key] = &record[T]{
		entry: CacheEntry[T]{
			Data:         value,
			CreatedAt:    time.Now(),
			TTLSeconds:   ttlSeconds,
			SizeEstimate: estimateSize(value),
		},
		recency: s.recency,
	}
}

// evictLRULocked removes the entry with the lowest recency counter. Caller
// must hold s.mu.
func (s *Service[T]) evictLRULocked() {
	var victim string
	var lowest uint64
	first := true
	for k, r := range s.entries {
		if first || r.recency < lowest {
			victim = k
			lowest = r.recency
			first = false
		}
	}
	if !first {
		delete(s.entries, victim)
		s.evictions++
	}
}

// Delete removes key from both tiers and emits cache:delete.
func (s *Service[T]) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	if s.remote != nil {
		_ = s.remote.Delete(ctx, key)
	}
	s.emit("cache:delete", map[string]any{"key": key})
}

// Clear empties both tiers and resets counters, emitting cache:clear.
func (s *Service[T]) Clear(ctx context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]*record[T])
	s.hits, s.misses, s.evictions = 0, 0, 0
	s.mu.Unlock()
	if s.remote != nil {
		_ = s.remote.Clear(ctx)
	}
	s.emit("cache:clear", nil)
}

// Stats reports current hit/miss/eviction counters, entry count, and the
// creation timestamps of the oldest and newest resident entries.
func (s *Service[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Entries:   len(s.entries),
		Evictions: s.evictions,
	}
	first := true
	for _, r := range s.entries {
		if first || r.entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = r.entry.CreatedAt
		}
		if first || r.entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = r.entry.CreatedAt
		}
		first = false
	}
	return stats
}
