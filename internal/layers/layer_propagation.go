package layers

import (
	"context"
	"time"

	"codeintel/internal/protocol"
)

// PropagationLayer (L5) walks only "calls" edges in the concept-relationship
// graph to find everything a rename or refactor would propagate to — the
// call graph, as opposed to OntologyLayer's broader implements/extends/calls
// closure used for general reference discovery.
type PropagationLayer struct {
	Index *Index
}

const propagationBudget = 20 * time.Millisecond

func (l *PropagationLayer) Name() string          { return "L5" }
func (l *PropagationLayer) Budget() time.Duration { return propagationBudget }

func (l *PropagationLayer) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}

func (l *PropagationLayer) FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error) {
	start := time.Now()

	conceptID, ok := l.Index.conceptIDForName(req.Identifier)
	if !ok {
		return abstain(start), nil
	}
	eng, err := l.Index.ontologyEngineFor()
	if err != nil {
		return protocol.LayerResult{Duration: time.Since(start), Err: err}, err
	}

	targets, err := eng.ReachableFrom(conceptID, "calls")
	if err != nil {
		return protocol.LayerResult{Duration: time.Since(start), Err: err}, err
	}
	if len(targets) == 0 {
		return abstain(start), nil
	}

	var locations []protocol.Location
	for _, targetID := range targets {
		name := conceptNameFor(l.Index, targetID)
		for _, occ := range l.Index.findSymbolOccurrences(name) {
			locations = append(locations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
		}
	}
	if len(locations) == 0 {
		return abstain(start), nil
	}
	return protocol.LayerResult{Locations: locations, Duration: time.Since(start)}, nil
}

// SuggestRefactoring proposes no direct edits: propagation informs blast
// radius, it doesn't author transformations (that's PatternLayer's job).
func (l *PropagationLayer) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}
