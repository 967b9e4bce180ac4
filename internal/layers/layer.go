package layers

import (
	"context"
	"time"

	"codeintel/internal/protocol"
)

// Layer is one lookup strategy in the five-layer pipeline. Each layer either
// answers authoritatively, contributes a partial result to be merged with
// other layers, or abstains (protocol.LayerResult.Abstained).
type Layer interface {
	Name() string
	Budget() time.Duration
	FindDefinition(ctx context.Context, req protocol.DefinitionRequest) (protocol.LayerResult, error)
	FindReferences(ctx context.Context, req protocol.ReferencesRequest) (protocol.LayerResult, error)
	SuggestRefactoring(ctx context.Context, req protocol.RefactoringRequest) (protocol.LayerResult, error)
}

func abstain(start time.Time) protocol.LayerResult {
	return protocol.LayerResult{Abstained: true, Duration: time.Since(start)}
}
