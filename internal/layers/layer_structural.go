package layers

import (
	"context"
	"time"

	"codeintel/internal/parsing"
	"codeintel/internal/protocol"
)

// StructuralLayer (L2) distinguishes declarations from references using the
// parse-tree symbol kinds tree-sitter extracted (internal/parsing), rather
// than treating every name occurrence the same way L1 does.
type StructuralLayer struct {
	Index *Index
}

const structuralBudget = 50 * time.Millisecond

func (l *StructuralLayer) Name() string          { return "L2" }
func (l *StructuralLayer) Budget() time.Duration { return structuralBudget }

func isDeclaration(kind parsing.SymbolKind) bool {
	return kind == parsing.SymbolFunction || kind == parsing.SymbolMethod || kind == parsing.SymbolType
}

func (l *StructuralLayer) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error) {
	start := time.Now()
	occurrences := l.Index.findSymbolOccurrences(req.Identifier)

	var declarations []protocol.Location
	for _, occ := range occurrences {
		if isDeclaration(occ.Symbol.Kind) {
			declarations = append(declarations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
		}
	}
	if len(declarations) == 0 {
		return abstain(start), nil
	}
	return protocol.LayerResult{
		Authoritative: len(declarations) == 1,
		Locations:     declarations,
		Duration:      time.Since(start),
	}, nil
}

func (l *StructuralLayer) FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error) {
	start := time.Now()
	occurrences := l.Index.findSymbolOccurrences(req.Identifier)
	if len(occurrences) == 0 {
		return abstain(start), nil
	}

	var locations []protocol.Location
	for _, occ := range occurrences {
		if !req.IncludeDeclaration && isDeclaration(occ.Symbol.Kind) {
			continue
		}
		locations = append(locations, protocol.Location{URI: occ.URI, Range: occ.Symbol.Range})
	}
	if len(locations) == 0 {
		return abstain(start), nil
	}
	return protocol.LayerResult{Locations: locations, Duration: time.Since(start)}, nil
}

// SuggestRefactoring abstains: structural parsing locates symbols, it
// doesn't judge them.
func (l *StructuralLayer) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}
