package team

import (
	"context"
	"testing"

	"codeintel/internal/protocol"
)

// TestPatternPromotionPendingToValidatedToAdopted is the literal scenario:
// share -> pending; two approving validations at min_validators=2/
// min_approval_score=3.0 -> validated; three successful adoptions at
// adoption_threshold=3 -> adopted.
func TestPatternPromotionPendingToValidatedToAdopted(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	shared, err := r.SharePattern(ctx, SharePatternRequest{
		Pattern:       protocol.Pattern{ID: "P", From: "old", To: "new"},
		ContributorID: "C",
	})
	if err != nil {
		t.Fatalf("SharePattern: %v", err)
	}
	if shared.Status != protocol.StatusPending {
		t.Fatalf("expected pending status, got %v", shared.Status)
	}

	if _, err := r.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 4.0}); err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	after, err := r.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V2", Status: "approved", Score: 3.5})
	if err != nil {
		t.Fatalf("ValidatePattern: %v", err)
	}
	if after.Status != protocol.StatusValidated {
		t.Fatalf("expected validated status after two approving validations averaging >= 3.0, got %v", after.Status)
	}

	var final protocol.SharedPattern
	for i, adopter := range []string{"A1", "A2", "A3"} {
		final, err = r.RecordAdoption(ctx, shared.ID, protocol.Adoption{AdopterID: adopter, Outcome: "success"})
		if err != nil {
			t.Fatalf("RecordAdoption %d: %v", i, err)
		}
	}
	if final.Status != protocol.StatusAdopted {
		t.Fatalf("expected adopted status after three successful adoptions, got %v", final.Status)
	}
}

func TestValidatePatternStaysPendingBelowApprovalScore(t *testing.T) {
	r := New(Config{MinValidators: 2, MinApprovalScore: 3.0})
	ctx := context.Background()

	shared, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "P"}, ContributorID: "C"})
	r.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 2.0})
	after, _ := r.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V2", Status: "approved", Score: 2.0})

	if after.Status != protocol.StatusPending {
		t.Errorf("expected pattern to remain pending below min_approval_score, got %v", after.Status)
	}
}

func TestCompactRemovesPatternsRejectedByEveryValidator(t *testing.T) {
	r := New(Config{MinValidators: 2, MinApprovalScore: 3.0})
	ctx := context.Background()

	dead, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "dead"}, ContributorID: "C"})
	r.ValidatePattern(ctx, dead.ID, protocol.Validation{ValidatorID: "V1", Status: "rejected", Score: 1.0})
	r.ValidatePattern(ctx, dead.ID, protocol.Validation{ValidatorID: "V2", Status: "rejected", Score: 1.0})

	alive, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "alive"}, ContributorID: "C"})
	r.ValidatePattern(ctx, alive.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 4.0})
	r.ValidatePattern(ctx, alive.ID, protocol.Validation{ValidatorID: "V2", Status: "rejected", Score: 1.0})

	removed, err := r.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected exactly one pattern removed, got %d", removed)
	}

	r.mu.Lock()
	_, deadStillPresent := r.patterns[dead.ID]
	_, aliveStillPresent := r.patterns[alive.ID]
	r.mu.Unlock()
	if deadStillPresent {
		t.Errorf("expected unanimously rejected pattern %s to be compacted away", dead.ID)
	}
	if !aliveStillPresent {
		t.Errorf("expected pattern %s with at least one non-rejection to survive Compact", alive.ID)
	}
}

func TestExportImportRoundTripSkipsDuplicates(t *testing.T) {
	source := New(Config{})
	ctx := context.Background()
	source.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "P1"}, ContributorID: "C", Tags: []string{"caching"}, Documentation: "doc1"})
	source.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "P2"}, ContributorID: "C", Tags: []string{"errors"}, Documentation: "doc2"})
	snap := source.Export()

	peer := New(Config{})
	result, err := peer.Import(ctx, snap)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.PatternsImported != 2 || result.PatternsSkipped != 0 {
		t.Fatalf("expected 2 imported / 0 skipped on first import, got %+v", result)
	}

	peerPatterns := peer.Patterns()
	if len(peerPatterns) != 2 {
		t.Fatalf("expected 2 patterns on peer, got %d", len(peerPatterns))
	}
	for i, p := range peerPatterns {
		if p.Documentation != snap.Patterns[i].Documentation || len(p.Tags) != len(snap.Patterns[i].Tags) {
			t.Errorf("pattern %d diverged from source on import: %+v vs %+v", i, p, snap.Patterns[i])
		}
	}

	result2, err := peer.Import(ctx, snap)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if result2.PatternsImported != 0 || result2.PatternsSkipped != 2 {
		t.Fatalf("expected re-import to be a no-op (0 imported / 2 skipped), got %+v", result2)
	}
}

func TestRecommendPatternsExcludesSelfContributedAndFiltersByExpertise(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	member, _ := r.RegisterMember(ctx, RegisterMemberRequest{Name: "Dana", Expertise: map[string]bool{"caching": true}})

	own, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "own"}, ContributorID: member.ID, Tags: []string{"caching"}})
	r.ValidatePattern(ctx, own.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 5})
	r.ValidatePattern(ctx, own.ID, protocol.Validation{ValidatorID: "V2", Status: "approved", Score: 5})

	other, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "other"}, ContributorID: "someone-else", Tags: []string{"caching"}})
	r.ValidatePattern(ctx, other.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 5})
	r.ValidatePattern(ctx, other.ID, protocol.Validation{ValidatorID: "V2", Status: "approved", Score: 5})

	unrelated, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "unrelated"}, ContributorID: "someone-else", Tags: []string{"logging"}})
	r.ValidatePattern(ctx, unrelated.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 5})
	r.ValidatePattern(ctx, unrelated.ID, protocol.Validation{ValidatorID: "V2", Status: "approved", Score: 5})

	recs := r.RecommendPatterns(member.ID, 0)
	if len(recs) != 1 || recs[0].ID != other.ID {
		t.Fatalf("expected only the non-self-contributed caching pattern recommended, got %+v", recs)
	}
}

func TestBuildKnowledgeGraphIncludesContributionValidationAdoptionEdges(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()
	shared, _ := r.SharePattern(ctx, SharePatternRequest{Pattern: protocol.Pattern{ID: "P"}, ContributorID: "C"})
	r.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V1", Status: "approved", Score: 5})
	r.RecordAdoption(ctx, shared.ID, protocol.Adoption{AdopterID: "A1", Outcome: "success"})

	graph := r.BuildKnowledgeGraph()
	kinds := map[GraphEdgeKind]bool{}
	for _, e := range graph.Edges {
		kinds[e.Kind] = true
	}
	if !kinds[EdgeContributed] || !kinds[EdgeValidated] || !kinds[EdgeAdopted] {
		t.Errorf("expected contributed/validated/adopted edges, got %+v", graph.Edges)
	}
}
