// Package ontology evaluates concept-relationship closure as a small Datalog
// program: given direct `calls`/`implements`/`extends` edges between
// concepts, it derives transitive reachability by parsing a closure
// program, loading relationships as facts, and evaluating to a fixed
// point.
package ontology

import (
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"codeintel/internal/protocol"
)

// closureProgram declares direct edges per relationship kind and their
// transitive closures. relation_path(A, D, Kind) holds for every concept D
// reachable from A over one or more Kind-typed edges.
const closureProgram = `
	Decl related(Source.Type<n>, Target.Type<n>, Kind.Type<n>, Confidence.Type<n>).
	Decl relation_path(Source.Type<n>, Target.Type<n>, Kind.Type<n>).

	relation_path(A, D, K) :- related(A, D, K, _).
	relation_path(A, D, K) :- related(A, C, K, _), relation_path(C, D, K).
`

// Engine wraps one evaluated Mangle program over a set of ConceptRelationship
// facts. It is rebuilt (not mutated in place) whenever the relationship set
// changes, since Mangle's fixed-point evaluation is cheapest run once over a
// complete fact set rather than incrementally re-evaluated fact-by-fact.
type Engine struct {
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
}

// Build parses the closure program, loads relationships as `related` facts,
// and evaluates to a fixed point.
func Build(relationships []protocol.ConceptRelationship) (*Engine, error) {
	unit, err := parse.Unit(strings.NewReader(closureProgram))
	if err != nil {
		return nil, fmt.Errorf("ontology: parse closure program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("ontology: analyze closure program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, rel := range relationships {
		atom, err := relationAtom(rel)
		if err != nil {
			return nil, fmt.Errorf("ontology: relationship %s->%s: %w", rel.SourceConceptID, rel.TargetConceptID, err)
		}
		store.Add(atom)
	}

	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("ontology: evaluate: %w", err)
	}

	return &Engine{store: store, programInfo: programInfo}, nil
}

func relationAtom(rel protocol.ConceptRelationship) (ast.Atom, error) {
	confidence := int64(rel.Confidence * 1000)
	terms := []ast.BaseTerm{
		ast.String(rel.SourceConceptID),
		ast.String(rel.TargetConceptID),
		ast.String(rel.RelationshipType),
		ast.Number(confidence),
	}
	return ast.NewAtom("related", terms...), nil
}

// Reachable reports whether target is reachable from source over one or
// more edges of the given kind (e.g. "calls", "implements", "extends").
func (e *Engine) Reachable(sourceConceptID, targetConceptID, kind string) (bool, error) {
	pred := ast.PredicateSym{Symbol: "relation_path", Arity: 3}
	query := ast.NewQuery(pred)

	found := false
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		if found {
			return nil
		}
		if len(atom.Args) != 3 {
			return nil
		}
		src, srcOK := atom.Args[0].(ast.Constant)
		dst, dstOK := atom.Args[1].(ast.Constant)
		k, kOK := atom.Args[2].(ast.Constant)
		if srcOK && dstOK && kOK && src.Symbol == sourceConceptID && dst.Symbol == targetConceptID && k.Symbol == kind {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ontology: reachable query: %w", err)
	}
	return found, nil
}

// ReachableFrom returns every concept ID reachable from sourceConceptID over
// edges of the given kind, used to drive FindReferences-style expansion.
func (e *Engine) ReachableFrom(sourceConceptID, kind string) ([]string, error) {
	pred := ast.PredicateSym{Symbol: "relation_path", Arity: 3}
	query := ast.NewQuery(pred)

	var targets []string
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		if len(atom.Args) != 3 {
			return nil
		}
		src, srcOK := atom.Args[0].(ast.Constant)
		dst, dstOK := atom.Args[1].(ast.Constant)
		k, kOK := atom.Args[2].(ast.Constant)
		if srcOK && dstOK && kOK && src.Symbol == sourceConceptID && k.Symbol == kind {
			targets = append(targets, dst.Symbol)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ontology: reachable-from query: %w", err)
	}
	return targets, nil
}
