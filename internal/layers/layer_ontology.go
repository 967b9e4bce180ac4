package layers

import (
	"context"
	"time"

	"codeintel/internal/protocol"
)

// OntologyLayer (L3) answers from concept-relationship closure
// (internal/ontology): given an identifier resolved to a Concept, it finds
// every concept transitively reachable over calls/implements/extends edges
// and reports the symbol occurrences of those reachable concepts as
// references. It never answers FindDefinition or SuggestRefactoring — a
// relationship graph locates connections, not declarations or fixes.
type OntologyLayer struct {
	Index *Index
}

const ontologyBudget = 10 * time.Millisecond

var relationshipKinds = []string{"calls", "implements", "extends"}

func (l *OntologyLayer) Name() string          { return "L3" }
func (l *OntologyLayer) Budget() time.Duration { return ontologyBudget }

func (l *OntologyLayer) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}

func (l *OntologyLayer) FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error) {
	start := time.Now()

	conceptID, ok := l.Index.conceptIDForName(req.Identifier)
	if !ok {
		return abstain(start), nil
	}

	eng, err := l.Index.ontologyEngineFor()
	if err != nil {
		return protocol.LayerResult{Duration: time.Since(start), Err: err}, err
	}

	seen := make(map[string]bool)
	var locations []protocol.Location
	for _, kind := range relationshipKinds {
		targets, err := eng.ReachableFrom(conceptID, kind)
		if err != nil {
			return protocol.LayerResult{Duration: time.Since(start), Err: err}, err
		}
		for _, targetID := range targets {
			if seen[targetID] {
				continue
			}
			seen[targetID] = true
			for _, occ := range l.Index.findSymbolOccurrences(conceptNameFor(l.Index, targetID)) {
				locations = append(locations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
			}
		}
	}

	if len(locations) == 0 {
		return abstain(start), nil
	}
	return protocol.LayerResult{Locations: locations, Duration: time.Since(start)}, nil
}

func conceptNameFor(idx *Index, conceptID string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if c, ok := idx.concepts[conceptID]; ok {
		return c.CanonicalName
	}
	return ""
}

func (l *OntologyLayer) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}
