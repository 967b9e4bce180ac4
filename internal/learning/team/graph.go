package team

import (
	"context"
	"sort"
	"time"
)

// SyncTeamPatterns refreshes a member's LastActive timestamp (if memberID
// is non-empty) and emits the current snapshot on team-patterns:synced, the
// closest local analogue to a real multi-peer sync round-trip: every
// member that calls it observes the same shared state.
func (r *Registry) SyncTeamPatterns(ctx context.Context, memberID string) (Snapshot, error) {
	r.mu.Lock()
	if memberID != "" {
		if m, ok := r.members[memberID]; ok {
			m.LastActive = time.Now()
			if r.cfg.Store != nil {
				if err := r.persistMember(ctx, *m); err != nil {
					r.mu.Unlock()
					return Snapshot{}, err
				}
			}
		}
	}
	r.mu.Unlock()

	snap := r.Export()
	if r.cfg.Bus != nil {
		r.cfg.Bus.Emit("team-patterns:synced", snap)
	}
	return snap, nil
}

// GraphEdgeKind tags the relationship an Edge represents.
type GraphEdgeKind string

const (
	EdgeContributed GraphEdgeKind = "contributed"
	EdgeValidated   GraphEdgeKind = "validated"
	EdgeAdopted     GraphEdgeKind = "adopted"
)

// Edge connects a member to a pattern in the knowledge graph.
type Edge struct {
	MemberID  string
	PatternID string
	Kind      GraphEdgeKind
}

// KnowledgeGraph is a point-in-time view over members, patterns, and the
// contribution/validation/adoption edges between them, computed on demand
// rather than maintained as a standing doubly-linked structure (members and
// patterns form cycles through shared expertise tags, so on-demand
// computation from the member/pattern arenas avoids reference cycles).
type KnowledgeGraph struct {
	MemberIDs  []string
	PatternIDs []string
	Edges      []Edge
}

// BuildKnowledgeGraph computes a KnowledgeGraph from the current member and
// pattern arenas.
func (r *Registry) BuildKnowledgeGraph() KnowledgeGraph {
	r.mu.Lock()
	defer r.mu.Unlock()

	graph := KnowledgeGraph{}
	for id := range r.members {
		graph.MemberIDs = append(graph.MemberIDs, id)
	}
	sort.Strings(graph.MemberIDs)

	for id, p := range r.patterns {
		graph.PatternIDs = append(graph.PatternIDs, id)
		if p.ContributorID != "" {
			graph.Edges = append(graph.Edges, Edge{MemberID: p.ContributorID, PatternID: id, Kind: EdgeContributed})
		}
		for _, v := range p.Validations {
			graph.Edges = append(graph.Edges, Edge{MemberID: v.ValidatorID, PatternID: id, Kind: EdgeValidated})
		}
		for _, a := range p.Adoptions {
			graph.Edges = append(graph.Edges, Edge{MemberID: a.AdopterID, PatternID: id, Kind: EdgeAdopted})
		}
	}
	sort.Strings(graph.PatternIDs)
	sort.Slice(graph.Edges, func(i, j int) bool {
		if graph.Edges[i].PatternID != graph.Edges[j].PatternID {
			return graph.Edges[i].PatternID < graph.Edges[j].PatternID
		}
		return graph.Edges[i].MemberID < graph.Edges[j].MemberID
	})
	return graph
}

// ExpertiseOverlap returns the sorted set of expertise tags two members
// share: a member-to-member connection that does not pass through a shared
// pattern. BuildKnowledgeGraph does not include these connections.
func (r *Registry) ExpertiseOverlap(memberAID, memberBID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.members[memberAID]
	if !ok {
		return nil
	}
	b, ok := r.members[memberBID]
	if !ok {
		return nil
	}

	var overlap []string
	for tag, has := range a.Expertise {
		if has && b.Expertise[tag] {
			overlap = append(overlap, tag)
		}
	}
	sort.Strings(overlap)
	return overlap
}
