// Package layers implements the five-layer lookup pipeline (fasttext,
// structural, ontology, pattern, propagation) that the analyzer core fans
// requests out to. Each layer is tried concurrently and budgeted with its
// own context.WithTimeout; non-abstaining results are merged together.
package layers

import (
	"context"
	"strings"
	"sync"

	"codeintel/internal/ontology"
	"codeintel/internal/parsing"
	"codeintel/internal/protocol"
)

// FileSymbols is one file's indexed symbols, keyed by URI.
type FileSymbols struct {
	URI     string
	Symbols []parsing.Symbol
}

// Index is the in-memory symbol/concept/relationship/pattern store the five
// layers consult. Symbols are populated incrementally as files are parsed
// (IndexFile); concepts and relationships are written through PutConcept,
// SetRelationships and AddRelationship, and the learned pattern set through
// SetPatterns, which internal/learning/feedback calls as it records decisions.
type Index struct {
	mu sync.RWMutex

	files         map[string]*FileSymbols
	concepts      map[string]protocol.Concept
	relationships []protocol.ConceptRelationship
	patterns      []protocol.Pattern

	ontologyEngine *ontology.Engine
	ontologyStale  bool
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		files:         make(map[string]*FileSymbols),
		concepts:      make(map[string]protocol.Concept),
		ontologyStale: true,
	}
}

// IndexFile parses content with the shared parsing.Service and replaces any
// previously indexed symbols for uri.
func (idx *Index) IndexFile(ctx context.Context, parser *parsing.Service, uri string, content []byte) error {
	result, err := parser.Parse(ctx, uri, content)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	idx.files[uri] = &FileSymbols{URI: uri, Symbols: result.Symbols}
	idx.mu.Unlock()
	return nil
}

// SymbolsForURI returns the last indexed symbols for uri, or nil if unindexed.
func (idx *Index) SymbolsForURI(uri string) []parsing.Symbol {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fs, ok := idx.files[uri]
	if !ok {
		return nil
	}
	return fs.Symbols
}

// AllSymbols returns every indexed symbol across every file, paired with the
// URI it came from.
func (idx *Index) AllSymbols() map[string][]parsing.Symbol {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string][]parsing.Symbol, len(idx.files))
	for uri, fs := range idx.files {
		out[uri] = fs.Symbols
	}
	return out
}

// PutConcept upserts a Concept.
func (idx *Index) PutConcept(c protocol.Concept) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.concepts[c.ID] = c
}

// SetRelationships replaces the full relationship set and marks the ontology
// engine stale so the next query rebuilds it.
func (idx *Index) SetRelationships(rels []protocol.ConceptRelationship) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.relationships = rels
	idx.ontologyStale = true
}

// AddRelationship appends one relationship and marks the ontology engine stale.
func (idx *Index) AddRelationship(rel protocol.ConceptRelationship) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.relationships = append(idx.relationships, rel)
	idx.ontologyStale = true
}

// SetPatterns replaces the pattern set consulted by the pattern layer.
func (idx *Index) SetPatterns(patterns []protocol.Pattern) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.patterns = patterns
}

// Patterns returns the current pattern set.
func (idx *Index) Patterns() []protocol.Pattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]protocol.Pattern, len(idx.patterns))
	copy(out, idx.patterns)
	return out
}

// ontologyEngineFor rebuilds the ontology engine if stale. Caller must
// hold no lock; this takes its own.
func (idx *Index) ontologyEngineFor() (*ontology.Engine, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.ontologyStale && idx.ontologyEngine != nil {
		return idx.ontologyEngine, nil
	}
	eng, err := ontology.Build(idx.relationships)
	if err != nil {
		return nil, err
	}
	idx.ontologyEngine = eng
	idx.ontologyStale = false
	return eng, nil
}

// findSymbolOccurrences returns every (uri, symbol) pair whose name matches
// identifier, across all indexed files. Used by the fasttext and structural
// layers as the basis for definition/reference lookup.
func (idx *Index) findSymbolOccurrences(identifier string) []struct {
	URI    string
	Symbol parsing.Symbol
} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []struct {
		URI    string
		Symbol parsing.Symbol
	}
	for uri, fs := range idx.files {
		for _, sym := range fs.Symbols {
			if sym.Name == identifier {
				out = append(out, struct {
					URI    string
					Symbol parsing.Symbol
				}{URI: uri, Symbol: sym})
			}
		}
	}
	return out
}

// conceptIDForName finds a concept whose canonical name matches identifier,
// used to bridge identifier-based requests into the concept-relationship
// graph the ontology and propagation layers operate over.
func (idx *Index) conceptIDForName(identifier string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, c := range idx.concepts {
		if strings.EqualFold(c.CanonicalName, identifier) {
			return id, true
		}
	}
	return "", false
}
