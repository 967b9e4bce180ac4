package protocol

import "time"

// LayerAttribution records which layer contributed (or abstained from) a result.
type LayerAttribution struct {
	Layer        string        `json:"layer"`
	Authoritative bool         `json:"authoritative"`
	Abstained    bool          `json:"abstained"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ResponseEnvelope is embedded in every core response shape.
type ResponseEnvelope struct {
	CacheHit          bool               `json:"cache_hit"`
	DurationMS        int64              `json:"duration_ms"`
	LayerAttribution  []LayerAttribution `json:"layer_attribution"`
}

// LayerResult is what a single Layer returns for one dispatch: either an
// authoritative short-circuit, a partial contribution to be merged with
// later layers, or an abstention (timeout or "don't know").
type LayerResult struct {
	Authoritative bool
	Abstained     bool
	Locations     []Location
	Edits         []Edit
	Refactorings  []Refactoring
	Duration      time.Duration
	Err           error
}

// DefinitionRequest is the FindDefinition core request shape.
type DefinitionRequest struct {
	Identifier         string   `json:"identifier"`
	URI                string   `json:"uri"`
	Position           Position `json:"position"`
	IncludeDeclaration bool     `json:"include_declaration,omitempty"`
}

// DefinitionResponse is the FindDefinition core response shape.
type DefinitionResponse struct {
	ResponseEnvelope
	Data []Location `json:"data"`
}

// ReferencesRequest is the FindReferences core request shape.
type ReferencesRequest struct {
	Identifier         string   `json:"identifier"`
	URI                string   `json:"uri"`
	Position           Position `json:"position"`
	IncludeDeclaration bool     `json:"include_declaration"`
}

// ReferencesResponse is the FindReferences core response shape.
type ReferencesResponse struct {
	ResponseEnvelope
	Data []Location `json:"data"`
}

// RenameRequest is the Rename core request shape.
type RenameRequest struct {
	Identifier string   `json:"identifier"`
	URI        string   `json:"uri"`
	Position   Position `json:"position"`
	NewName    string   `json:"new_name"`
}

// RenameResponse is the Rename core response shape.
type RenameResponse struct {
	ResponseEnvelope
	Changes []Edit `json:"changes"`
}

// Refactoring is a single suggested refactoring.
type Refactoring struct {
	Title       string  `json:"title"`
	Kind        string  `json:"kind"`
	Confidence  float64 `json:"confidence"`
	Edits       []Edit  `json:"edits"`
	PatternID   string  `json:"pattern_id,omitempty"`
}

// RefactoringRequest is the SuggestRefactoring core request shape.
type RefactoringRequest struct {
	URI string `json:"uri"`
}

// RefactoringResponse is the SuggestRefactoring core response shape.
type RefactoringResponse struct {
	ResponseEnvelope
	Suggestions []Refactoring `json:"suggestions"`
}

// CompletionItem is a single completion candidate.
type CompletionItem struct {
	Label      string  `json:"label"`
	Detail     string  `json:"detail,omitempty"`
	Confidence float64 `json:"confidence"`
}

// CompletionRequest is the Completion core request shape.
type CompletionRequest struct {
	URI      string   `json:"uri"`
	Position Position `json:"position"`
	Prefix   string   `json:"prefix,omitempty"`
}

// CompletionResponse is the Completion core response shape.
type CompletionResponse struct {
	ResponseEnvelope
	Items []CompletionItem `json:"items"`
}

// FeedbackRequest is the Feedback core request shape (maps onto FeedbackEvent).
type FeedbackRequest struct {
	SuggestionID string           `json:"suggestion_id"`
	Type         FeedbackType     `json:"type"`
	Original     string           `json:"original"`
	Final        string           `json:"final,omitempty"`
	PatternID    string           `json:"pattern_id,omitempty"`
	Context      FeedbackContext  `json:"context"`
	Metadata     FeedbackMetadata `json:"metadata"`
}

// FileChangeType is the wire-level change kind for TrackFileChange.
type FileChangeType string

const (
	FileChangeCreated  FileChangeType = "created"
	FileChangeModified FileChangeType = "modified"
	FileChangeDeleted  FileChangeType = "deleted"
	FileChangeRenamed  FileChangeType = "renamed"
)

// TrackFileChangeRequest is the TrackFileChange core request shape.
type TrackFileChangeRequest struct {
	Path       string           `json:"path"`
	ChangeType FileChangeType   `json:"change_type"`
	Before     *FileSnapshot    `json:"before,omitempty"`
	After      *FileSnapshot    `json:"after,omitempty"`
	Context    EvolutionContext `json:"context"`
}

// LearnOperation names one of the learning orchestrator's typed operations.
type LearnOperation string

const (
	LearnPatternLearning      LearnOperation = "pattern_learning"
	LearnFeedbackRecording    LearnOperation = "feedback_recording"
	LearnEvolutionTracking    LearnOperation = "evolution_tracking"
	LearnTeamSharing          LearnOperation = "team_sharing"
	LearnComprehensiveAnalysis LearnOperation = "comprehensive_analysis"
)

// LearnRequest is the Learn core request shape.
type LearnRequest struct {
	Operation LearnOperation `json:"operation"`
	Context   map[string]any `json:"context,omitempty"`
	Data      Opaque         `json:"data"`
}

// LearnPerformance breaks down per-component timing for a Learn response.
type LearnPerformance struct {
	TotalMS      int64            `json:"total_ms"`
	ComponentsMS map[string]int64 `json:"components_ms"`
}

// LearnResponse is the Learn core response shape.
type LearnResponse struct {
	Success         bool           `json:"success"`
	Data            map[string]any `json:"data,omitempty"`
	Insights        []Insight      `json:"insights,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Performance     LearnPerformance `json:"performance"`
	Errors          []string       `json:"errors,omitempty"`
}

// InsightKind is the tagged variant of a derived Insight.
type InsightKind string

const (
	InsightPatternWeakness InsightKind = "pattern_weakness"
	InsightPatternStrength InsightKind = "pattern_strength"
	InsightUserPreference  InsightKind = "user_preference"
)

// Insight is a derived observation surfaced by FeedbackLoop.Insights or the
// orchestrator's aggregation.
type Insight struct {
	Kind       InsightKind `json:"kind"`
	Subject    string      `json:"subject"`
	Detail     string      `json:"detail"`
	Confidence float64     `json:"confidence"`
}
