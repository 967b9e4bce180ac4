package orchestrator

import (
	"context"
	"fmt"

	"codeintel/internal/learning/team"
	"codeintel/internal/protocol"
)

// dispatchFeedback decodes req.Data as a protocol.FeedbackRequest and
// records it through the feedback loop.
func (o *Orchestrator) dispatchFeedback(ctx context.Context, req protocol.LearnRequest, resp *protocol.LearnResponse) error {
	if o.cfg.Feedback == nil {
		return fmt.Errorf("orchestrator: feedback component not configured")
	}
	var fr protocol.FeedbackRequest
	if err := req.Data.Decode(&fr); err != nil {
		return fmt.Errorf("orchestrator: decode feedback request: %w", err)
	}
	event, err := o.cfg.Feedback.Record(ctx, fr)
	if err != nil {
		return err
	}
	resp.Data = map[string]any{"event": event}
	resp.Insights = o.cfg.Feedback.Insights()
	return nil
}

// dispatchEvolution decodes req.Data as a protocol.TrackFileChangeRequest
// and records it through the evolution tracker.
func (o *Orchestrator) dispatchEvolution(ctx context.Context, req protocol.LearnRequest, resp *protocol.LearnResponse) error {
	if o.cfg.Evolution == nil {
		return fmt.Errorf("orchestrator: evolution component not configured")
	}
	var tr protocol.TrackFileChangeRequest
	if err := req.Data.Decode(&tr); err != nil {
		return fmt.Errorf("orchestrator: decode evolution request: %w", err)
	}
	event, err := o.cfg.Evolution.TrackFileChange(ctx, tr)
	if err != nil {
		return err
	}
	resp.Data = map[string]any{"event": event, "patterns": o.cfg.Evolution.Patterns()}
	return nil
}

// teamRequest is the decoded shape of a team_sharing Learn request: exactly
// one of the action-specific fields is populated, selected by Action.
type teamRequest struct {
	Action        string                     `json:"action"`
	Member        team.RegisterMemberRequest `json:"member,omitempty"`
	Share         team.SharePatternRequest   `json:"share,omitempty"`
	PatternID     string                     `json:"pattern_id,omitempty"`
	Validation    protocol.Validation        `json:"validation,omitempty"`
	Adoption      protocol.Adoption          `json:"adoption,omitempty"`
	MemberID      string                     `json:"member_id,omitempty"`
	Limit         int                        `json:"limit,omitempty"`
	Snapshot      team.Snapshot              `json:"snapshot,omitempty"`
}

// dispatchTeam decodes req.Data as a teamRequest and invokes the matching
// Registry method based on its Action field.
func (o *Orchestrator) dispatchTeam(ctx context.Context, req protocol.LearnRequest, resp *protocol.LearnResponse) error {
	if o.cfg.Team == nil {
		return fmt.Errorf("orchestrator: team component not configured")
	}
	var tr teamRequest
	if err := req.Data.Decode(&tr); err != nil {
		return fmt.Errorf("orchestrator: decode team request: %w", err)
	}

	switch tr.Action {
	case "register_member":
		member, err := o.cfg.Team.RegisterMember(ctx, tr.Member)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"member": member}
	case "share_pattern":
		shared, err := o.cfg.Team.SharePattern(ctx, tr.Share)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"pattern": shared}
	case "validate_pattern":
		shared, err := o.cfg.Team.ValidatePattern(ctx, tr.PatternID, tr.Validation)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"pattern": shared}
	case "record_adoption":
		shared, err := o.cfg.Team.RecordAdoption(ctx, tr.PatternID, tr.Adoption)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"pattern": shared}
	case "sync_team_patterns":
		snap, err := o.cfg.Team.SyncTeamPatterns(ctx, tr.MemberID)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"snapshot": snap}
	case "recommend_patterns":
		resp.Data = map[string]any{"patterns": o.cfg.Team.RecommendPatterns(tr.MemberID, tr.Limit)}
	case "export":
		resp.Data = map[string]any{"snapshot": o.cfg.Team.Export()}
	case "import":
		result, err := o.cfg.Team.Import(ctx, tr.Snapshot)
		if err != nil {
			return err
		}
		resp.Data = map[string]any{"result": result}
	default:
		return fmt.Errorf("orchestrator: unknown team action %q", tr.Action)
	}
	return nil
}

// dispatchPatternLearning routes to LearnFromCorrection, the feedback
// loop's pattern-learning entry point.
func (o *Orchestrator) dispatchPatternLearning(ctx context.Context, req protocol.LearnRequest, resp *protocol.LearnResponse) error {
	if o.cfg.Feedback == nil {
		return fmt.Errorf("orchestrator: feedback component not configured")
	}
	var pr struct {
		Original  string                    `json:"original"`
		Corrected string                    `json:"corrected"`
		PatternID string                    `json:"pattern_id"`
		Context   protocol.FeedbackContext  `json:"context"`
	}
	if err := req.Data.Decode(&pr); err != nil {
		return fmt.Errorf("orchestrator: decode pattern-learning request: %w", err)
	}
	pattern, err := o.cfg.Feedback.LearnFromCorrection(ctx, pr.Original, pr.Corrected, pr.PatternID, pr.Context)
	if err != nil {
		return err
	}
	resp.Data = map[string]any{"pattern": pattern}
	return nil
}

// dispatchComprehensive aggregates stats and insights across every
// configured component into one response.
func (o *Orchestrator) dispatchComprehensive(ctx context.Context, req protocol.LearnRequest, resp *protocol.LearnResponse) error {
	data := map[string]any{}
	var insights []protocol.Insight
	var recommendations []string

	if o.cfg.Feedback != nil {
		data["feedback_stats"] = o.cfg.Feedback.Stats()
		insights = append(insights, o.cfg.Feedback.Insights()...)
	}
	if o.cfg.Evolution != nil {
		data["evolution_patterns"] = o.cfg.Evolution.DetectPatternsSync()
	}
	if o.cfg.Team != nil {
		data["team_patterns"] = o.cfg.Team.Patterns()
	}

	resp.Data = data
	resp.Insights = insights
	resp.Recommendations = recommendations
	return nil
}
