package layers

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"codeintel/internal/protocol"
)

// LayerManager fans a request out to every registered Layer concurrently,
// budgeting each with its own context.WithTimeout, then merges results:
// the first authoritative result (by layer order) short-circuits; otherwise
// every non-abstaining layer's partial contribution is merged together.
type LayerManager struct {
	layers []Layer
}

// NewLayerManager builds the standard five-layer pipeline over index.
func NewLayerManager(index *Index) *LayerManager {
	return &LayerManager{layers: []Layer{
		&FasttextLayer{Index: index},
		&StructuralLayer{Index: index},
		&OntologyLayer{Index: index},
		&PatternLayer{Index: index},
		&PropagationLayer{Index: index},
	}}
}

// Layers exposes the ordered layer list (layer order is the tie-break order
// for "first authoritative wins").
func (m *LayerManager) Layers() []Layer { return m.layers }

type layerOutcome struct {
	name   string
	result protocol.LayerResult
}

// dispatch runs fn against every layer concurrently, each under its own
// budget-bound context, and returns outcomes in layer order.
func (m *LayerManager) dispatch(ctx context.Context, fn func(context.Context, Layer) (protocol.LayerResult, error)) []layerOutcome {
	outcomes := make([]layerOutcome, len(m.layers))
	g, gctx := errgroup.WithContext(ctx)

	for i, layer := range m.layers {
		i, layer := i, layer
		g.Go(func() error {
			layerCtx, cancel := context.WithTimeout(gctx, layer.Budget())
			defer cancel()

			start := time.Now()
			result, err := fn(layerCtx, layer)
			if err != nil {
				result.Err = err
			}
			if layerCtx.Err() != nil && !result.Abstained && len(result.Locations) == 0 && len(result.Edits) == 0 && len(result.Refactorings) == 0 {
				result = protocol.LayerResult{Abstained: true, Duration: time.Since(start), Err: layerCtx.Err()}
			}
			outcomes[i] = layerOutcome{name: layer.Name(), result: result}
			return nil // a single layer's failure never cancels its siblings
		})
	}
	_ = g.Wait()
	return outcomes
}

func attribution(outcomes []layerOutcome) []protocol.LayerAttribution {
	attrs := make([]protocol.LayerAttribution, len(outcomes))
	for i, o := range outcomes {
		errMsg := ""
		if o.result.Err != nil {
			errMsg = o.result.Err.Error()
		}
		attrs[i] = protocol.LayerAttribution{
			Layer:         o.name,
			Authoritative: o.result.Authoritative,
			Abstained:     o.result.Abstained,
			Error:         errMsg,
			Duration:      o.result.Duration,
		}
	}
	return attrs
}

// FindDefinition dispatches to every layer and merges locations: the first
// authoritative, non-abstaining result (in layer order) wins outright;
// absent one, every layer's locations are unioned.
func (m *LayerManager) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) ([]protocol.Location, []protocol.LayerAttribution) {
	outcomes := m.dispatch(ctx, func(ctx context.Context, l Layer) (protocol.LayerResult, error) {
		return l.FindDefinition(ctx, req)
	})
	return mergeLocations(outcomes), attribution(outcomes)
}

// FindReferences dispatches to every layer and unions every non-abstaining
// layer's locations (references have no single-winner short-circuit: more
// coverage is strictly better).
func (m *LayerManager) FindReferences(ctx context.Context, req protocol.ReferencesRequest) ([]protocol.Location, []protocol.LayerAttribution) {
	outcomes := m.dispatch(ctx, func(ctx context.Context, l Layer) (protocol.LayerResult, error) {
		return l.FindReferences(ctx, req)
	})
	return mergeLocationsUnion(outcomes), attribution(outcomes)
}

// SuggestRefactoring dispatches to every layer and merges every
// non-abstaining layer's suggestions, sorted by descending confidence.
func (m *LayerManager) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) ([]protocol.Refactoring, []protocol.LayerAttribution) {
	outcomes := m.dispatch(ctx, func(ctx context.Context, l Layer) (protocol.LayerResult, error) {
		return l.SuggestRefactoring(ctx, req)
	})
	return mergeRefactorings(outcomes), attribution(outcomes)
}

func mergeLocations(outcomes []layerOutcome) []protocol.Location {
	for _, o := range outcomes {
		if o.result.Authoritative && !o.result.Abstained && len(o.result.Locations) > 0 {
			return o.result.Locations
		}
	}
	return mergeLocationsUnion(outcomes)
}

func mergeLocationsUnion(outcomes []layerOutcome) []protocol.Location {
	seen := make(map[protocol.Location]bool)
	var merged []protocol.Location
	for _, o := range outcomes {
		if o.result.Abstained {
			continue
		}
		for _, loc := range o.result.Locations {
			if seen[loc] {
				continue
			}
			seen[loc] = true
			merged = append(merged, loc)
		}
	}
	return merged
}

func mergeRefactorings(outcomes []layerOutcome) []protocol.Refactoring {
	var merged []protocol.Refactoring
	for _, o := range outcomes {
		if o.result.Abstained {
			continue
		}
		merged = append(merged, o.result.Refactorings...)
	}
	for i := 1; i < len(merged); i++ {
		for j := i; j > 0 && merged[j-1].Confidence < merged[j].Confidence; j-- {
			merged[j-1], merged[j] = merged[j], merged[j-1]
		}
	}
	return merged
}
