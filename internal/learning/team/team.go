// Package team maintains the shared-pattern knowledge base: member
// registry, the pending -> validated -> adopted lifecycle for patterns
// contributed by the team, and a knowledge graph connecting members to the
// patterns they validated or adopted.
package team

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeintel/internal/dbstore"
	"codeintel/internal/eventbus"
	"codeintel/internal/protocol"
)

// DefaultMinValidators, DefaultMinApprovalScore, and DefaultAdoptionThreshold
// mirror config.TeamConfig's defaults.
const (
	DefaultMinValidators     = 2
	DefaultMinApprovalScore  = 3.0
	DefaultAdoptionThreshold = 3
)

// Config wires the registry to its dependencies.
type Config struct {
	Store             *dbstore.Store
	Bus               *eventbus.Bus
	MinValidators     int
	MinApprovalScore  float64
	AdoptionThreshold int
}

// Registry is the team-knowledge-sharing engine.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	members  map[string]*protocol.TeamMember
	patterns map[string]*protocol.SharedPattern
}

// New creates a Registry, filling in defaults for zero-valued Config fields.
func New(cfg Config) *Registry {
	if cfg.MinValidators <= 0 {
		cfg.MinValidators = DefaultMinValidators
	}
	if cfg.MinApprovalScore <= 0 {
		cfg.MinApprovalScore = DefaultMinApprovalScore
	}
	if cfg.AdoptionThreshold <= 0 {
		cfg.AdoptionThreshold = DefaultAdoptionThreshold
	}
	return &Registry{
		cfg:      cfg,
		members:  make(map[string]*protocol.TeamMember),
		patterns: make(map[string]*protocol.SharedPattern),
	}
}

// RegisterMemberRequest is the RegisterMember input shape.
type RegisterMemberRequest struct {
	Name        string
	Role        protocol.TeamRole
	Expertise   map[string]bool
	Preferences protocol.MemberPreferences
}

// RegisterMember adds a TeamMember to the registry, or refreshes LastActive
// if a member with that name is already registered.
func (r *Registry) RegisterMember(ctx context.Context, req RegisterMemberRequest) (protocol.TeamMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if m.Name == req.Name {
			m.LastActive = time.Now()
			return *m, nil
		}
	}

	role := req.Role
	if role == "" {
		role = protocol.RoleDeveloper
	}
	member := protocol.TeamMember{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Role:        role,
		Expertise:   req.Expertise,
		JoinedAt:    time.Now(),
		LastActive:  time.Now(),
		Preferences: req.Preferences,
	}
	r.members[member.ID] = &member

	if r.cfg.Store != nil {
		if err := r.persistMember(ctx, member); err != nil {
			return member, err
		}
	}
	return member, nil
}

func (r *Registry) persistMember(ctx context.Context, m protocol.TeamMember) error {
	expertiseJSON := encodeJSON(m.Expertise)
	preferencesJSON := encodeJSON(m.Preferences)
	_, err := r.cfg.Store.Execute(ctx,
		`INSERT OR REPLACE INTO team_members (id, name, role, expertise, joined_at, last_active, preferences)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, string(m.Role), expertiseJSON, m.JoinedAt.Unix(), m.LastActive.Unix(), preferencesJSON,
	)
	if err != nil {
		return fmt.Errorf("team: persist member: %w", err)
	}
	return nil
}

// SharePatternRequest is the SharePattern input shape.
type SharePatternRequest struct {
	Pattern       protocol.Pattern
	ContributorID string
	Documentation string
	Tags          []string
}

// SharePattern contributes a pattern to the team knowledge base in
// StatusPending.
func (r *Registry) SharePattern(ctx context.Context, req SharePatternRequest) (protocol.SharedPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shared := protocol.SharedPattern{
		ID:            uuid.NewString(),
		Pattern:       req.Pattern,
		ContributorID: req.ContributorID,
		Documentation: req.Documentation,
		Tags:          req.Tags,
		Status:        protocol.StatusPending,
	}
	r.patterns[shared.ID] = &shared

	if r.cfg.Store != nil {
		if err := r.persistPatternLocked(ctx, shared); err != nil {
			return shared, err
		}
	}
	if r.cfg.Bus != nil {
		r.cfg.Bus.Emit("pattern:shared", shared)
	}
	return shared, nil
}

// ValidatePattern records a validator's review. When the accumulated
// approving validations reach MinValidators with an average score at or
// above MinApprovalScore, the pattern transitions pending -> validated. A
// validation with Status "rejected" never advances the pattern and, once
// recorded, is permanent (rejections are not retried into approvals by a
// later call).
func (r *Registry) ValidatePattern(ctx context.Context, patternID string, v protocol.Validation) (protocol.SharedPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patterns[patternID]
	if !ok {
		return protocol.SharedPattern{}, fmt.Errorf("team: unknown pattern %q", patternID)
	}
	if v.At.IsZero() {
		v.At = time.Now()
	}
	if v.Status == "" {
		v.Status = "approved"
	}
	p.Validations = append(p.Validations, v)
	p.Metrics.ValidationCount = len(p.Validations)

	if p.Status == protocol.StatusPending {
		approvals := 0
		var scoreSum float64
		for _, existing := range p.Validations {
			if existing.Status == "rejected" {
				continue
			}
			approvals++
			scoreSum += existing.Score
		}
		if approvals >= r.cfg.MinValidators && approvals > 0 && scoreSum/float64(approvals) >= r.cfg.MinApprovalScore {
			p.Status = protocol.StatusValidated
			if r.cfg.Bus != nil {
				r.cfg.Bus.Emit("pattern:validated", *p)
			}
		}
	}

	if r.cfg.Store != nil {
		if err := r.persistPatternLocked(ctx, *p); err != nil {
			return *p, err
		}
	}
	return *p, nil
}

// RecordAdoption records an adopter's outcome. Once successful adoptions
// reach AdoptionThreshold, a validated pattern transitions to adopted.
func (r *Registry) RecordAdoption(ctx context.Context, patternID string, a protocol.Adoption) (protocol.SharedPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patterns[patternID]
	if !ok {
		return protocol.SharedPattern{}, fmt.Errorf("team: unknown pattern %q", patternID)
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
	p.Adoptions = append(p.Adoptions, a)
	p.Metrics.AdoptionCount = len(p.Adoptions)

	successes := 0
	for _, existing := range p.Adoptions {
		if existing.Outcome == "success" {
			successes++
		}
	}
	if len(p.Adoptions) > 0 {
		p.Metrics.SuccessRate = float64(successes) / float64(len(p.Adoptions))
	}

	if p.Status == protocol.StatusValidated && successes >= r.cfg.AdoptionThreshold {
		p.Status = protocol.StatusAdopted
		if r.cfg.Bus != nil {
			r.cfg.Bus.Emit("pattern:adopted", *p)
		}
	}

	if r.cfg.Store != nil {
		if err := r.persistPatternLocked(ctx, *p); err != nil {
			return *p, err
		}
	}
	return *p, nil
}

func (r *Registry) persistPatternLocked(ctx context.Context, p protocol.SharedPattern) error {
	patternJSON := encodeJSON(p.Pattern)
	tagsJSON := encodeJSON(p.Tags)
	validationsJSON := encodeJSON(p.Validations)
	adoptionsJSON := encodeJSON(p.Adoptions)
	metricsJSON := encodeJSON(p.Metrics)
	_, err := r.cfg.Store.Execute(ctx,
		`INSERT OR REPLACE INTO shared_patterns (id, pattern, contributor_id, documentation, tags, status, validations, adoptions, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, patternJSON, p.ContributorID, p.Documentation, tagsJSON, string(p.Status),
		validationsJSON, adoptionsJSON, metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("team: persist pattern: %w", err)
	}
	return nil
}

// Patterns returns a copy of every shared pattern, sorted by ID.
func (r *Registry) Patterns() []protocol.SharedPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedPatternsLocked()
}

func (r *Registry) sortedPatternsLocked() []protocol.SharedPattern {
	out := make([]protocol.SharedPattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecommendPatterns intersects memberID's expertise tags with each
// validated/adopted pattern's tags, excludes patterns the member
// contributed themselves, and sorts the remainder by adoption success rate
// (most successful first), capped at limit (0 means unlimited).
func (r *Registry) RecommendPatterns(memberID string, limit int) []protocol.SharedPattern {
	r.mu.Lock()
	member, ok := r.members[memberID]
	var expertise map[string]bool
	if ok {
		expertise = member.Expertise
	}
	candidates := r.sortedPatternsLocked()
	r.mu.Unlock()

	wanted := make(map[string]bool, len(expertise))
	for tag, has := range expertise {
		if has {
			wanted[tag] = true
		}
	}

	var matches []protocol.SharedPattern
	for _, p := range candidates {
		if p.Status != protocol.StatusValidated && p.Status != protocol.StatusAdopted {
			continue
		}
		if p.ContributorID == memberID {
			continue
		}
		if len(wanted) > 0 && !hasAnyTag(p.Tags, wanted) {
			continue
		}
		matches = append(matches, p)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Metrics.SuccessRate > matches[j].Metrics.SuccessRate
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Compact drops pending patterns that can never be approved: every recorded
// validation rejected it, and at least MinValidators validators have
// weighed in. Returns the number of patterns removed.
func (r *Registry) Compact(ctx context.Context) (int, error) {
	r.mu.Lock()
	var dead []string
	for id, p := range r.patterns {
		if p.Status != protocol.StatusPending || len(p.Validations) < r.cfg.MinValidators {
			continue
		}
		allRejected := true
		for _, v := range p.Validations {
			if v.Status != "rejected" {
				allRejected = false
				break
			}
		}
		if allRejected {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(r.patterns, id)
	}
	r.mu.Unlock()

	if r.cfg.Store == nil || len(dead) == 0 {
		return len(dead), nil
	}
	for _, id := range dead {
		if _, err := r.cfg.Store.Execute(ctx, "DELETE FROM shared_patterns WHERE id = ?", id); err != nil {
			return len(dead), fmt.Errorf("team: compact: delete pattern %s: %w", id, err)
		}
	}
	return len(dead), nil
}

func hasAnyTag(tags []string, wanted map[string]bool) bool {
	for _, tg := range tags {
		if wanted[tg] {
			return true
		}
	}
	return false
}
