// Package protocol defines the wire-agnostic domain types shared by every
// core component and consumed by all four protocol adapters: the request
// fingerprint, the persisted domain model (Concept, Pattern, FeedbackEvent,
// EvolutionEvent, TeamMember, SharedPattern, QualityMetrics), and the core
// request/response shapes. Adapters translate their own wire format into
// these types; nothing downstream of the analyzer core ever sees a
// protocol-specific shape.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Position is a zero-based line/character location, matching LSP convention.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans from Start to End within a single document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location identifies a range within a document.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Edit describes a text replacement within a document.
type Edit struct {
	URI     string `json:"uri"`
	Range   Range  `json:"range"`
	NewText string `json:"new_text"`
}

// Opaque is a self-describing JSON document used for metadata/evidence/
// examples fields: treat as bytes at the boundary, decode on demand.
type Opaque json.RawMessage

// MarshalJSON implements json.Marshaler.
func (o Opaque) MarshalJSON() ([]byte, error) {
	if len(o) == 0 {
		return []byte("null"), nil
	}
	return o, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Opaque) UnmarshalJSON(data []byte) error {
	*o = append((*o)[0:0], data...)
	return nil
}

// Decode unmarshals the opaque document into v.
func (o Opaque) Decode(v any) error {
	if len(o) == 0 {
		return nil
	}
	return json.Unmarshal(o, v)
}

// ---------------------------------------------------------------------------
// Request fingerprint
// ---------------------------------------------------------------------------

// Fingerprint is the stable identifier of a request, used as the cache key
// and the single-flight coalescing key. Equal logical requests within one
// workspace revision must produce equal fingerprints.
type Fingerprint string

// FingerprintInput is the tuple a fingerprint is derived from: operation
// name, identifier, file URI, position, and a small set of relevant options.
type FingerprintInput struct {
	Operation  string
	Identifier string
	URI        string
	Position   *Position
	Options    map[string]string
}

// NewFingerprint derives a stable fingerprint from in. Options are sorted by
// key before hashing so map iteration order never affects the result.
func NewFingerprint(in FingerprintInput) Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "op=%s\x00id=%s\x00uri=%s\x00", in.Operation, in.Identifier, in.URI)
	if in.Position != nil {
		fmt.Fprintf(h, "line=%d\x00char=%d\x00", in.Position.Line, in.Position.Character)
	}
	keys := make([]string, 0, len(in.Options))
	for k := range in.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\x00", k, in.Options[k])
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ---------------------------------------------------------------------------
// Persisted domain model
// ---------------------------------------------------------------------------

// ConceptFlags captures the boolean facets of a Concept.
type ConceptFlags struct {
	Interface  bool `json:"interface"`
	Abstract   bool `json:"abstract"`
	Deprecated bool `json:"deprecated"`
}

// Concept is a persisted, language-agnostic symbol concept.
type Concept struct {
	ID                   string       `json:"id"`
	CanonicalName        string       `json:"canonical_name"`
	SignatureFingerprint string       `json:"signature_fingerprint,omitempty"`
	Confidence           float64      `json:"confidence"`
	Category             string       `json:"category,omitempty"`
	Flags                ConceptFlags `json:"flags"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	Metadata             Opaque       `json:"metadata,omitempty"`
}

// ClampConfidence clamps a confidence value into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SymbolRepresentation is one observed occurrence of a Concept.
type SymbolRepresentation struct {
	ConceptID   string    `json:"concept_id"`
	Name        string    `json:"name"`
	URI         string    `json:"uri"`
	Range       Range     `json:"range"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Occurrences int       `json:"occurrences"`
	Context     string    `json:"context,omitempty"`
}

// ConceptRelationship is a directed, typed edge between two concepts.
type ConceptRelationship struct {
	SourceConceptID  string  `json:"source_concept_id"`
	TargetConceptID  string  `json:"target_concept_id"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	Evidence         Opaque  `json:"evidence,omitempty"`
}

// Pattern is a learned structural transformation template.
type Pattern struct {
	ID          string     `json:"id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Confidence  float64    `json:"confidence"`
	Occurrences int        `json:"occurrences"`
	Category    string     `json:"category,omitempty"`
	LastApplied *time.Time `json:"last_applied,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Examples    Opaque     `json:"examples,omitempty"`
}

// FeedbackType is the tagged variant of a FeedbackEvent (DESIGN NOTES §9:
// sum-types over inheritance).
type FeedbackType string

const (
	FeedbackAccept FeedbackType = "accept"
	FeedbackReject FeedbackType = "reject"
	FeedbackModify FeedbackType = "modify"
	FeedbackIgnore FeedbackType = "ignore"
)

// FeedbackContext carries the circumstances a FeedbackEvent was recorded under.
type FeedbackContext struct {
	File       string    `json:"file"`
	Operation  string    `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// FeedbackMetadata carries optional provenance for a FeedbackEvent.
type FeedbackMetadata struct {
	Source           string `json:"source,omitempty"`
	TimeToDecisionMS *int64 `json:"time_to_decision_ms,omitempty"`
	Keystrokes       *int   `json:"keystrokes,omitempty"`
	AlternativesShown *int  `json:"alternatives_shown,omitempty"`
}

// FeedbackEvent records a user decision about a suggestion.
type FeedbackEvent struct {
	ID           string           `json:"id"`
	Type         FeedbackType     `json:"type"`
	SuggestionID string           `json:"suggestion_id"`
	PatternID    string           `json:"pattern_id,omitempty"`
	Original     string           `json:"original"`
	Final        string           `json:"final,omitempty"`
	Context      FeedbackContext  `json:"context"`
	Metadata     FeedbackMetadata `json:"metadata"`
}

// EvolutionType is the tagged variant of an EvolutionEvent.
type EvolutionType string

const (
	EvoFileCreated       EvolutionType = "file_created"
	EvoFileModified      EvolutionType = "file_modified"
	EvoFileDeleted       EvolutionType = "file_deleted"
	EvoFileRenamed       EvolutionType = "file_renamed"
	EvoSymbolAdded       EvolutionType = "symbol_added"
	EvoSymbolRemoved     EvolutionType = "symbol_removed"
	EvoSymbolRenamed     EvolutionType = "symbol_renamed"
	EvoSignatureChanged  EvolutionType = "signature_changed"
	EvoDependencyAdded   EvolutionType = "dependency_added"
	EvoDependencyRemoved EvolutionType = "dependency_removed"
)

// Severity is the impact severity of an EvolutionEvent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FileSnapshot is the before/after shape of a changed file.
type FileSnapshot struct {
	Path         string   `json:"path"`
	Content      string   `json:"content,omitempty"`
	Signature    string   `json:"signature,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// EvolutionContext carries provenance about the change's origin.
type EvolutionContext struct {
	Commit  string `json:"commit,omitempty"`
	Author  string `json:"author,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Message string `json:"message,omitempty"`
}

// EvolutionImpact quantifies the blast radius of a change.
type EvolutionImpact struct {
	FilesAffected   int      `json:"files_affected"`
	SymbolsAffected int      `json:"symbols_affected"`
	TestsAffected   int      `json:"tests_affected"`
	Severity        Severity `json:"severity"`
}

// EvolutionMetadata carries optional provenance for an EvolutionEvent.
type EvolutionMetadata struct {
	DiffSize   int   `json:"diff_size"`
	CycleTimeS *int  `json:"cycle_time_s,omitempty"`
	Rollback   *bool `json:"rollback,omitempty"`
	Automated  *bool `json:"automated,omitempty"`
}

// EvolutionEvent records a single observed change to the workspace.
type EvolutionEvent struct {
	ID        string            `json:"id"`
	Type      EvolutionType     `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	File      string            `json:"file"`
	Before    *FileSnapshot     `json:"before,omitempty"`
	After     *FileSnapshot     `json:"after,omitempty"`
	Context   EvolutionContext  `json:"context"`
	Impact    EvolutionImpact   `json:"impact"`
	Metadata  EvolutionMetadata `json:"metadata"`
}

// EvolutionPatternType is the tagged variant of a detected EvolutionPattern.
type EvolutionPatternType string

const (
	EvoPatternRefactoring  EvolutionPatternType = "refactoring"
	EvoPatternMigration    EvolutionPatternType = "migration"
	EvoPatternGrowth       EvolutionPatternType = "growth"
	EvoPatternCleanup      EvolutionPatternType = "cleanup"
	EvoPatternArchitectural EvolutionPatternType = "architectural"
)

// TimeSpan summarizes min/max/avg durations observed within a pattern.
type TimeSpan struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
}

// EvolutionCharacteristics describes a detected EvolutionPattern's shape.
type EvolutionCharacteristics struct {
	TypicalFiles      []string `json:"typical_files"`
	TypicalOperations []string `json:"typical_operations"`
	Timespan          TimeSpan `json:"timespan"`
	ImpactFiles        int     `json:"impact_files"`
	ImpactSymbols       int    `json:"impact_symbols"`
}

// EvolutionPattern is a recurring change pattern detected across EvolutionEvents.
type EvolutionPattern struct {
	ID              string                   `json:"id"`
	Type            EvolutionPatternType     `json:"type"`
	Name            string                   `json:"name"`
	Description     string                   `json:"description"`
	Frequency       int                      `json:"frequency"`
	Confidence      float64                  `json:"confidence"`
	Examples        []string                 `json:"examples"`
	Characteristics EvolutionCharacteristics `json:"characteristics"`
	DetectedAt      time.Time                `json:"detected_at"`
	LastSeen        time.Time                `json:"last_seen"`
}

// TeamRole is the role a TeamMember holds.
type TeamRole string

const (
	RoleDeveloper TeamRole = "developer"
	RoleSenior    TeamRole = "senior"
	RoleLead      TeamRole = "lead"
	RoleArchitect TeamRole = "architect"
	RoleAdmin     TeamRole = "admin"
)

// SharingLevel controls how widely a member's contributions are visible.
type SharingLevel string

const (
	SharingPrivate SharingLevel = "private"
	SharingTeam    SharingLevel = "team"
	SharingPublic  SharingLevel = "public"
)

// MemberPreferences holds a TeamMember's sharing/notification preferences.
type MemberPreferences struct {
	SharingLevel      SharingLevel `json:"sharing_level"`
	ReceiveSuggestions bool        `json:"receive_suggestions"`
	AutoSync          bool         `json:"auto_sync"`
}

// TeamMember is a participant in the team-knowledge graph.
type TeamMember struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Role       TeamRole          `json:"role"`
	Expertise  map[string]bool   `json:"expertise"`
	JoinedAt   time.Time         `json:"joined_at"`
	LastActive time.Time         `json:"last_active"`
	Preferences MemberPreferences `json:"preferences"`
}

// PatternStatus is the lifecycle state of a SharedPattern (pending -> validated -> adopted).
type PatternStatus string

const (
	StatusPending    PatternStatus = "pending"
	StatusValidated  PatternStatus = "validated"
	StatusAdopted    PatternStatus = "adopted"
	StatusRejected   PatternStatus = "rejected"
	StatusDeprecated PatternStatus = "deprecated"
)

// Validation is a single validator's review of a SharedPattern.
type Validation struct {
	ValidatorID string    `json:"validator_id"`
	Status      string    `json:"status"`
	Score       float64   `json:"score"`
	Feedback    string    `json:"feedback,omitempty"`
	Criteria    []string  `json:"criteria,omitempty"`
	At          time.Time `json:"at"`
}

// Adoption is a single adopter's outcome for a SharedPattern.
type Adoption struct {
	AdopterID     string    `json:"adopter_id"`
	Context       string    `json:"context,omitempty"`
	Outcome       string    `json:"outcome"` // success | failure | partial
	Feedback      string    `json:"feedback,omitempty"`
	Modifications string    `json:"modifications,omitempty"`
	At            time.Time `json:"at"`
}

// SharedPatternMetrics rolls up validation/adoption counters.
type SharedPatternMetrics struct {
	ValidationCount int     `json:"validation_count"`
	AdoptionCount   int     `json:"adoption_count"`
	SuccessRate     float64 `json:"success_rate"`
}

// SharedPattern is a Pattern shared into the team knowledge base.
type SharedPattern struct {
	ID            string                `json:"id"`
	Pattern       Pattern               `json:"pattern"`
	ContributorID string                `json:"contributor_id"`
	Documentation string                `json:"documentation,omitempty"`
	Tags          []string              `json:"tags,omitempty"`
	Status        PatternStatus         `json:"status"`
	Validations   []Validation          `json:"validations"`
	Adoptions     []Adoption            `json:"adoptions"`
	Metrics       SharedPatternMetrics  `json:"metrics"`
}

// QualityComplexity holds the complexity facet of QualityMetrics.
type QualityComplexity struct {
	Cyclomatic int     `json:"cyclomatic"`
	Cognitive  int     `json:"cognitive"`
	Halstead   float64 `json:"halstead"`
}

// QualityDuplication holds the duplication facet of QualityMetrics.
type QualityDuplication struct {
	Lines   int     `json:"lines"`
	Blocks  int     `json:"blocks"`
	Percent float64 `json:"percent"`
}

// QualityDependencies holds the dependency facet of QualityMetrics.
type QualityDependencies struct {
	Internal int `json:"internal"`
	External int `json:"external"`
	Circular int `json:"circular"`
}

// QualityTestCoverage holds the coverage facet of QualityMetrics.
type QualityTestCoverage struct {
	Lines     float64 `json:"lines"`
	Branches  float64 `json:"branches"`
	Functions float64 `json:"functions"`
}

// QualityMaintainability holds the maintainability facet of QualityMetrics.
type QualityMaintainability struct {
	Index     float64  `json:"index"`
	DebtHours float64  `json:"debt_hours"`
	Hotspots  []string `json:"hotspots,omitempty"`
}

// QualityMetrics is a point-in-time snapshot of workspace code quality.
type QualityMetrics struct {
	Timestamp      time.Time              `json:"timestamp"`
	Complexity     QualityComplexity      `json:"complexity"`
	Duplication    QualityDuplication     `json:"duplication"`
	Dependencies   QualityDependencies    `json:"dependencies"`
	TestCoverage   QualityTestCoverage    `json:"test_coverage"`
	Maintainability QualityMaintainability `json:"maintainability"`
}
