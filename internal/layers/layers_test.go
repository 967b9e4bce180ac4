package layers

import (
	"context"
	"testing"
	"time"

	"codeintel/internal/parsing"
	"codeintel/internal/protocol"
)

func newTestManager(t *testing.T) (*LayerManager, *Index) {
	t.Helper()
	idx := NewIndex()
	parser := parsing.New()
	t.Cleanup(parser.Close)

	src := []byte(`package sample

func Widget() int {
	return helper()
}

func helper() int {
	return 1
}
`)
	if err := idx.IndexFile(context.Background(), parser, "file.go", src); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	return NewLayerManager(idx), idx
}

func TestFindDefinitionAuthoritativeSingleMatch(t *testing.T) {
	mgr, _ := newTestManager(t)
	locations, attrs := mgr.FindDefinition(context.Background(), protocol.DefinitionRequest{Identifier: "Widget"})
	if len(locations) != 1 {
		t.Fatalf("expected exactly one definition location, got %d", len(locations))
	}
	if len(attrs) != 5 {
		t.Fatalf("expected attribution from all 5 layers, got %d", len(attrs))
	}
}

func TestFindDefinitionAbstainsOnUnknownIdentifier(t *testing.T) {
	mgr, _ := newTestManager(t)
	locations, attrs := mgr.FindDefinition(context.Background(), protocol.DefinitionRequest{Identifier: "DoesNotExist"})
	if len(locations) != 0 {
		t.Errorf("expected no locations for an unknown identifier, got %d", len(locations))
	}
	for _, a := range attrs {
		if !a.Abstained {
			t.Errorf("expected layer %s to abstain on an unknown identifier", a.Layer)
		}
	}
}

func TestFindReferencesUnionsAcrossLayers(t *testing.T) {
	mgr, _ := newTestManager(t)
	locations, _ := mgr.FindReferences(context.Background(), protocol.ReferencesRequest{Identifier: "helper", IncludeDeclaration: true})
	if len(locations) == 0 {
		t.Fatalf("expected at least one reference location for helper")
	}
}

func TestSuggestRefactoringFromPattern(t *testing.T) {
	mgr, idx := newTestManager(t)
	idx.SetPatterns([]protocol.Pattern{
		{ID: "p1", From: "var x = y.(int)", To: "x, ok := y.(int)", Confidence: 0.8},
	})
	suggestions, _ := mgr.SuggestRefactoring(context.Background(), protocol.RefactoringRequest{URI: "file.go"})
	if len(suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(suggestions))
	}
	if suggestions[0].PatternID != "p1" {
		t.Errorf("expected suggestion to reference pattern p1, got %s", suggestions[0].PatternID)
	}
}

func TestSuggestRefactoringAbstainsBelowConfidenceFloor(t *testing.T) {
	mgr, idx := newTestManager(t)
	idx.SetPatterns([]protocol.Pattern{
		{ID: "p2", From: "a", To: "b", Confidence: 0.1},
	})
	suggestions, attrs := mgr.SuggestRefactoring(context.Background(), protocol.RefactoringRequest{URI: "file.go"})
	if len(suggestions) != 0 {
		t.Errorf("expected low-confidence pattern to be filtered out, got %d suggestions", len(suggestions))
	}
	for _, a := range attrs {
		if a.Layer == "L4" && !a.Abstained {
			t.Errorf("expected pattern layer to abstain below the confidence floor")
		}
	}
}

func TestOntologyAndPropagationUseConceptRelationships(t *testing.T) {
	idx := NewIndex()
	parser := parsing.New()
	defer parser.Close()

	src := []byte(`package sample

func Caller() {
	Callee()
}

func Callee() {}
`)
	if err := idx.IndexFile(context.Background(), parser, "file.go", src); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	idx.PutConcept(protocol.Concept{ID: "c-caller", CanonicalName: "Caller"})
	idx.PutConcept(protocol.Concept{ID: "c-callee", CanonicalName: "Callee"})
	idx.SetRelationships([]protocol.ConceptRelationship{
		{SourceConceptID: "c-caller", TargetConceptID: "c-callee", RelationshipType: "calls", Confidence: 0.9},
	})

	mgr := NewLayerManager(idx)
	locations, _ := mgr.FindReferences(context.Background(), protocol.ReferencesRequest{Identifier: "Caller", IncludeDeclaration: true})
	if len(locations) == 0 {
		t.Fatalf("expected propagation/ontology layers to surface Callee via the calls relationship")
	}
}

func TestDispatchRespectsPerLayerBudget(t *testing.T) {
	mgr, _ := newTestManager(t)
	start := time.Now()
	mgr.FindDefinition(context.Background(), protocol.DefinitionRequest{Identifier: "Widget"})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected dispatch to complete well within layer budgets, took %v", elapsed)
	}
}
