// Package monitoring collects performance, cache, and error telemetry across
// the core pipeline: a global sliding window, per-layer sliding windows, and
// a bounded recent-errors ring, summarized with percentile statistics.
package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeintel/internal/eventbus"
)

// WindowCapacity bounds both the global and each per-layer sliding window.
const WindowCapacity = 1000

// ErrorLogCapacity bounds the FIFO-truncated recent-errors ring.
const ErrorLogCapacity = 100

// RecentErrorsShown is how many recent errors Stats() surfaces.
const RecentErrorsShown = 20

// DefaultLayerBudgets mirrors the per-layer time budgets from the layer
// pipeline (C6): a layer is considered healthy only while its average
// latency stays under its own budget.
var DefaultLayerBudgets = map[string]time.Duration{
	"L1": 5 * time.Millisecond,
	"L2": 50 * time.Millisecond,
	"L3": 10 * time.Millisecond,
	"L4": 10 * time.Millisecond,
	"L5": 20 * time.Millisecond,
}

// window is a fixed-capacity FIFO ring of latency samples.
type window struct {
	capacity int
	samples  []time.Duration
}

func newWindow(capacity int) *window {
	return &window{capacity: capacity, samples: make([]time.Duration, 0, capacity)}
}

func (w *window) add(d time.Duration) {
	w.samples = append(w.samples, d)
	if len(w.samples) > w.capacity {
		w.samples = w.samples[len(w.samples)-w.capacity:]
	}
}

// percentile copies and sorts the window, then returns the value at index
// floor(p*n) clamped to n-1.
func (w *window) percentile(p float64) time.Duration {
	n := len(w.samples)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func (w *window) avg() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range w.samples {
		total += s
	}
	return total / time.Duration(len(w.samples))
}

type layerCounters struct {
	requests     int64
	totalLatency time.Duration
	errors       int64
	window       *window
}

// ErrorRecord is one entry in the bounded recent-errors ring.
type ErrorRecord struct {
	Layer     string
	Message   string
	Timestamp time.Time
}

// LayerBreakdown summarizes one layer's window for Summary/Stats.
type LayerBreakdown struct {
	Requests   int64
	AvgLatency time.Duration
	ErrorRate  float64
	Healthy    bool
}

// Summary is the result of Summary().
type Summary struct {
	RequestCount  int64
	AvgLatency    time.Duration
	P95           time.Duration
	P99           time.Duration
	ErrorRate     float64
	CacheHitRate  float64
	PerLayer      map[string]LayerBreakdown
}

// Stats extends Summary with uptime and recent errors.
type Stats struct {
	Summary
	UptimeSeconds int64
	RecentErrors  []ErrorRecord
}

// Service is the monitoring collector.
type Service struct {
	mu sync.Mutex

	global       *window
	globalErrors int64
	cacheHits    int64
	cacheMisses  int64

	layers map[string]*layerCounters
	budgets map[string]time.Duration

	recentErrors []ErrorRecord
	startedAt    time.Time

	bus    *eventbus.Bus
	cancel context.CancelFunc
}

// New creates a Service. bus may be nil if periodic reporting is not needed.
func New(bus *eventbus.Bus) *Service {
	budgets := make(map[string]time.Duration, len(DefaultLayerBudgets))
	for k, v := range DefaultLayerBudgets {
		budgets[k] = v
	}
	return &Service{
		global:    newWindow(WindowCapacity),
		layers:    make(map[string]*layerCounters),
		budgets:   budgets,
		startedAt: time.Now(),
		bus:       bus,
	}
}

func (s *Service) layerFor(layer string) *layerCounters {
	lc, ok := s.layers[layer]
	if !ok {
		lc = &layerCounters{window: newWindow(WindowCapacity)}
		s.layers[layer] = lc
	}
	return lc
}

// PerformanceSample is the record_performance payload.
type PerformanceSample struct {
	Layer      string
	Operation  string
	Duration   time.Duration
	CacheHit   bool
	ErrorCount int
}

// RecordPerformance updates the global window, the named layer's window,
// and its request/latency/error counters.
func (s *Service) RecordPerformance(sample PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global.add(sample.Duration)

	lc := s.layerFor(sample.Layer)
	lc.requests++
	lc.totalLatency += sample.Duration
	lc.errors += int64(sample.ErrorCount)
	lc.window.add(sample.Duration)

	if sample.CacheHit {
		s.cacheHits++
	}
	if sample.ErrorCount > 0 {
		s.globalErrors += int64(sample.ErrorCount)
	}
}

// RecordCacheHit increments the global cache-hit counter.
func (s *Service) RecordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// RecordCacheMiss increments the global cache-miss counter.
func (s *Service) RecordCacheMiss() {
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
}

// RecordError appends an error to the bounded recent-errors ring (FIFO
// truncated past ErrorLogCapacity) and increments the named layer's error
// counter.
func (s *Service) RecordError(layer, message string, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentErrors = append(s.recentErrors, ErrorRecord{Layer: layer, Message: message, Timestamp: timestamp})
	if len(s.recentErrors) > ErrorLogCapacity {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-ErrorLogCapacity:]
	}

	lc := s.layerFor(layer)
	lc.errors++
	s.globalErrors++
}

func (s *Service) summaryLocked() Summary {
	requestCount := int64(len(s.global.samples))
	totalHitMiss := s.cacheHits + s.cacheMisses
	var hitRate float64
	if totalHitMiss > 0 {
		hitRate = float64(s.cacheHits) / float64(totalHitMiss)
	}
	var errRate float64
	if requestCount > 0 {
		errRate = float64(s.globalErrors) / float64(requestCount)
	}

	perLayer := make(map[string]LayerBreakdown, len(s.layers))
	for name, lc := range s.layers {
		var avgLatency time.Duration
		var layerErrRate float64
		if lc.requests > 0 {
			avgLatency = lc.totalLatency / time.Duration(lc.requests)
			layerErrRate = float64(lc.errors) / float64(lc.requests)
		}
		budget, hasBudget := s.budgets[name]
		healthy := layerErrRate < 0.05
		if hasBudget {
			healthy = healthy && avgLatency < budget
		}
		perLayer[name] = LayerBreakdown{
			Requests:   lc.requests,
			AvgLatency: avgLatency,
			ErrorRate:  layerErrRate,
			Healthy:    healthy,
		}
	}

	return Summary{
		RequestCount: requestCount,
		AvgLatency:   s.global.avg(),
		P95:          s.global.percentile(0.95),
		P99:          s.global.percentile(0.99),
		ErrorRate:    errRate,
		CacheHitRate: hitRate,
		PerLayer:     perLayer,
	}
}

// Summary returns the current aggregate view.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// Stats extends Summary with uptime and the most recent errors.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := s.summaryLocked()
	recent := s.recentErrors
	if len(recent) > RecentErrorsShown {
		recent = recent[len(recent)-RecentErrorsShown:]
	}
	shown := make([]ErrorRecord, len(recent))
	copy(shown, recent)

	return Stats{
		Summary:       summary,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RecentErrors:  shown,
	}
}

// StartReporting emits monitoring:metrics-report every interval until ctx
// is cancelled or Stop is called. Safe to call at most once per Service.
func (s *Service) StartReporting(ctx context.Context, interval time.Duration) {
	if s.bus == nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.bus.Emit("monitoring:metrics-report", s.Summary())
			}
		}
	}()
}

// Stop halts periodic reporting started by StartReporting.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Reset clears all windows, counters, and the recent-errors ring, keeping
// the service usable (used by SharedServices.Flush).
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = newWindow(WindowCapacity)
	s.globalErrors = 0
	s.cacheHits = 0
	s.cacheMisses = 0
	s.layers = make(map[string]*layerCounters)
	s.recentErrors = nil
}
