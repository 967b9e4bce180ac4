// Package analyzer is the request pipeline every core operation flows
// through: fingerprint the request, check the cache, coalesce concurrent
// identical requests with golang.org/x/sync/singleflight, dispatch to the
// layer pipeline on a miss, merge and cache the result, and report
// performance.
package analyzer

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"codeintel/internal/cache"
	"codeintel/internal/eventbus"
	"codeintel/internal/layers"
	"codeintel/internal/monitoring"
	"codeintel/internal/protocol"
)

// Core is the analyzer pipeline. Cache is typed over protocol.ResponseEnvelope
// carriers stored as `any` since the four lookup operations return distinct
// response shapes.
type Core struct {
	Cache   *cache.Service[any]
	Layers  *layers.LayerManager
	Monitor *monitoring.Service
	Bus     *eventbus.Bus

	group singleflight.Group
}

// New builds a Core over the given substrate services and layer index.
func New(cacheSvc *cache.Service[any], layerMgr *layers.LayerManager, mon *monitoring.Service, bus *eventbus.Bus) *Core {
	return &Core{Cache: cacheSvc, Layers: layerMgr, Monitor: mon, Bus: bus}
}

// resolve is the shared cache/singleflight/layer-dispatch/record pipeline.
// compute runs only on a cache miss, and is shared across concurrent callers
// with the same fingerprint via singleflight.
func resolve[T any](ctx context.Context, c *Core, layer string, fp protocol.Fingerprint, compute func(ctx context.Context) (T, []protocol.LayerAttribution)) (T, bool, []protocol.LayerAttribution, time.Duration) {
	start := time.Now()

	if cached, ok := c.Cache.Get(ctx, string(fp)); ok {
		if typed, ok := cached.(T); ok {
			c.recordPerformance(layer, time.Since(start), true, 0)
			return typed, true, nil, time.Since(start)
		}
	}

	type payload struct {
		value T
		attrs []protocol.LayerAttribution
	}

	v, err, _ := c.group.Do(string(fp), func() (any, error) {
		value, attrs := compute(ctx)
		c.Cache.Set(ctx, string(fp), value, 0)
		return payload{value: value, attrs: attrs}, nil
	})
	_ = err // compute never returns an error today; kept for singleflight's signature

	p := v.(payload)
	elapsed := time.Since(start)
	c.recordPerformance(layer, elapsed, false, 0)
	if c.Bus != nil {
		c.Bus.Emit("performance-recorded", map[string]any{"layer": layer, "duration_ms": elapsed.Milliseconds(), "layer_attribution": p.attrs})
	}
	return p.value, false, p.attrs, elapsed
}

func (c *Core) recordPerformance(layer string, d time.Duration, cacheHit bool, errCount int) {
	if c.Monitor == nil {
		return
	}
	c.Monitor.RecordPerformance(monitoring.PerformanceSample{
		Layer: layer, Operation: layer, Duration: d, CacheHit: cacheHit, ErrorCount: errCount,
	})
}

// FindDefinition runs the full cache/singleflight/layer pipeline for a
// definition lookup.
func (c *Core) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) protocol.DefinitionResponse {
	fp := protocol.NewFingerprint(protocol.FingerprintInput{Operation: "find_definition", Identifier: req.Identifier, URI: req.URI, Position: &req.Position})

	value, hit, attrs, d := resolve(ctx, c, "analyzer", fp, func(ctx context.Context) (protocol.DefinitionResponse, []protocol.LayerAttribution) {
		locations, attrs := c.Layers.FindDefinition(ctx, req)
		return protocol.DefinitionResponse{Data: locations}, attrs
	})
	if !hit {
		value.LayerAttribution = attrs
	}
	value.CacheHit = hit
	value.DurationMS = d.Milliseconds()
	return value
}

// FindReferences runs the full pipeline for a references lookup.
func (c *Core) FindReferences(ctx context.Context, req protocol.ReferencesRequest) protocol.ReferencesResponse {
	fp := protocol.NewFingerprint(protocol.FingerprintInput{Operation: "find_references", Identifier: req.Identifier, URI: req.URI, Position: &req.Position})

	value, hit, attrs, d := resolve(ctx, c, "analyzer", fp, func(ctx context.Context) (protocol.ReferencesResponse, []protocol.LayerAttribution) {
		locations, attrs := c.Layers.FindReferences(ctx, req)
		return protocol.ReferencesResponse{Data: locations}, attrs
	})
	if !hit {
		value.LayerAttribution = attrs
	}
	value.CacheHit = hit
	value.DurationMS = d.Milliseconds()
	return value
}

// SuggestRefactoring runs the full pipeline for a refactoring-suggestion
// request.
func (c *Core) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) protocol.RefactoringResponse {
	fp := protocol.NewFingerprint(protocol.FingerprintInput{Operation: "suggest_refactoring", URI: req.URI})

	value, hit, attrs, d := resolve(ctx, c, "analyzer", fp, func(ctx context.Context) (protocol.RefactoringResponse, []protocol.LayerAttribution) {
		suggestions, attrs := c.Layers.SuggestRefactoring(ctx, req)
		return protocol.RefactoringResponse{Suggestions: suggestions}, attrs
	})
	if !hit {
		value.LayerAttribution = attrs
	}
	value.CacheHit = hit
	value.DurationMS = d.Milliseconds()
	return value
}

// Rename composes FindReferences with a pure rewrite: every occurrence of
// req.Identifier becomes an Edit replacing it with req.NewName. Not cached
// directly (it is derived from the already-cached references lookup).
func (c *Core) Rename(ctx context.Context, req protocol.RenameRequest) protocol.RenameResponse {
	refs := c.FindReferences(ctx, protocol.ReferencesRequest{
		Identifier:         req.Identifier,
		URI:                req.URI,
		Position:           req.Position,
		IncludeDeclaration: true,
	})

	edits := make([]protocol.Edit, 0, len(refs.Data))
	for _, loc := range refs.Data {
		edits = append(edits, protocol.Edit{URI: loc.URI, Range: loc.Range, NewText: req.NewName})
	}

	return protocol.RenameResponse{
		ResponseEnvelope: refs.ResponseEnvelope,
		Changes:          edits,
	}
}

// Completion offers completion candidates from indexed symbols whose name
// has req.Prefix as a prefix. It bypasses the layer pipeline entirely — a
// prefix match is cheap enough it doesn't need cache/singleflight/layer
// dispatch, and candidates must reflect the index's current state, not a
// stale cached one.
func (c *Core) Completion(ctx context.Context, idx *layers.Index, req protocol.CompletionRequest) protocol.CompletionResponse {
	start := time.Now()
	seen := make(map[string]bool)
	var items []protocol.CompletionItem

	for _, symbols := range idx.AllSymbols() {
		for _, sym := range symbols {
			if req.Prefix != "" && !hasPrefix(sym.Name, req.Prefix) {
				continue
			}
			if seen[sym.Name] {
				continue
			}
			seen[sym.Name] = true
			items = append(items, protocol.CompletionItem{Label: sym.Name, Detail: string(sym.Kind), Confidence: 1})
		}
	}

	c.recordPerformance("completion", time.Since(start), false, 0)
	return protocol.CompletionResponse{
		ResponseEnvelope: protocol.ResponseEnvelope{DurationMS: time.Since(start).Milliseconds()},
		Items:            items,
	}
}

func hasPrefix(name, prefix string) bool {
	if len(prefix) > len(name) {
		return false
	}
	return name[:len(prefix)] == prefix
}
