package team

import (
	"context"
	"encoding/json"
	"fmt"

	"codeintel/internal/protocol"
)

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Snapshot is the export/import wire format: the full member and pattern
// tables at a point in time.
type Snapshot struct {
	Members  []protocol.TeamMember   `json:"members"`
	Patterns []protocol.SharedPattern `json:"patterns"`
}

// Export produces a Snapshot of every member and pattern currently held,
// with patterns sorted by ID (the same order Patterns returns).
func (r *Registry) Export() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{}
	for _, m := range r.members {
		snap.Members = append(snap.Members, *m)
	}
	snap.Patterns = r.sortedPatternsLocked()
	if r.cfg.Bus != nil {
		r.cfg.Bus.Emit("team-patterns:exported", snap)
	}
	return snap
}

// ImportResult reports how many records an Import call actually applied.
type ImportResult struct {
	MembersImported  int
	MembersSkipped   int
	PatternsImported int
	PatternsSkipped  int
}

// Import merges snap into the registry. Existing records (matched by ID)
// are never overwritten — only genuinely new members and patterns are
// added, so importing the same snapshot twice is a no-op the second time.
func (r *Registry) Import(ctx context.Context, snap Snapshot) (ImportResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result ImportResult
	for _, m := range snap.Members {
		if _, exists := r.members[m.ID]; exists {
			result.MembersSkipped++
			continue
		}
		mm := m
		r.members[m.ID] = &mm
		result.MembersImported++
		if r.cfg.Store != nil {
			if err := r.persistMember(ctx, mm); err != nil {
				return result, fmt.Errorf("team: import member %s: %w", m.ID, err)
			}
		}
	}
	for _, p := range snap.Patterns {
		if _, exists := r.patterns[p.ID]; exists {
			result.PatternsSkipped++
			continue
		}
		pp := p
		r.patterns[p.ID] = &pp
		result.PatternsImported++
		if r.cfg.Store != nil {
			if err := r.persistPatternLocked(ctx, pp); err != nil {
				return result, fmt.Errorf("team: import pattern %s: %w", p.ID, err)
			}
		}
	}

	if r.cfg.Bus != nil {
		r.cfg.Bus.Emit("team-patterns:imported", result)
	}
	return result, nil
}
