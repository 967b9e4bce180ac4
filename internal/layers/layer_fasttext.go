package layers

import (
	"context"
	"time"

	"codeintel/internal/protocol"
)

// FasttextLayer (L1) answers from a plain name-match scan of the Index
// without consulting the parse tree shape or any relationship graph — the
// cheapest, fastest layer, meant to short-circuit the common case of an
// identifier with exactly one indexed occurrence.
type FasttextLayer struct {
	Index *Index
}

const fasttextBudget = 5 * time.Millisecond

func (l *FasttextLayer) Name() string          { return "L1" }
func (l *FasttextLayer) Budget() time.Duration { return fasttextBudget }

func (l *FasttextLayer) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error) {
	start := time.Now()
	occurrences := l.Index.findSymbolOccurrences(req.Identifier)
	if len(occurrences) == 0 {
		return abstain(start), nil
	}

	var locations []protocol.Location
	for _, occ := range occurrences {
		locations = append(locations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
	}

	return protocol.LayerResult{
		Authoritative: len(locations) == 1,
		Locations:     locations,
		Duration:      time.Since(start),
	}, nil
}

func (l *FasttextLayer) FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error) {
	start := time.Now()
	occurrences := l.Index.findSymbolOccurrences(req.Identifier)
	if len(occurrences) == 0 {
		return abstain(start), nil
	}
	var locations []protocol.Location
	for _, occ := range occurrences {
		locations = append(locations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
	}
	return protocol.LayerResult{Locations: locations, Duration: time.Since(start)}, nil
}

// SuggestRefactoring always abstains: name-matching has no opinion on
// structural transformations.
func (l *FasttextLayer) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}
