package layers

import (
	"context"
	"strings"
	"time"

	"codeintel/internal/protocol"
)

// PatternLayer (L4) is the only layer that answers SuggestRefactoring: it
// proposes every learned Pattern whose confidence is at least
// MinSuggestConfidence and whose Category is empty or occurs in the request
// URI, as a "Replace <from> with <to>" suggestion. It does not match the
// identifier under the cursor against a pattern's "from" side. The pattern
// set comes from Index.SetPatterns, which internal/learning/feedback calls
// after every recorded decision; LayerManager orders the merged suggestions
// by confidence.
type PatternLayer struct {
	Index *Index
}

const patternBudget = 10 * time.Millisecond

// MinSuggestConfidence is the floor a Pattern's confidence must clear before
// PatternLayer will surface it as a suggestion.
const MinSuggestConfidence = 0.5

func (l *PatternLayer) Name() string          { return "L4" }
func (l *PatternLayer) Budget() time.Duration { return patternBudget }

// FindDefinition and FindReferences abstain: a transformation template has no
// opinion on where a symbol is declared or used.
func (l *PatternLayer) FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}

func (l *PatternLayer) FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error) {
	return abstain(time.Now()), nil
}

func (l *PatternLayer) SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error) {
	start := time.Now()
	patterns := l.Index.Patterns()

	var refactorings []protocol.Refactoring
	for _, p := range patterns {
		if p.Confidence < MinSuggestConfidence {
			continue
		}
		if !strings.Contains(req.URI, p.Category) && p.Category != "" {
			continue
		}
		refactorings = append(refactorings, protocol.Refactoring{
			Title:      "Replace " + p.From + " with " + p.To,
			Kind:       "pattern-substitution",
			Confidence: p.Confidence,
			PatternID:  p.ID,
		})
	}

	if len(refactorings) == 0 {
		return abstain(start), nil
	}
	return protocol.LayerResult{Refactorings: refactorings, Duration: time.Since(start)}, nil
}
