package main

import (
	"context"

	"github.com/spf13/cobra"

	"codeintel/internal/protocol"
)

var (
	feedbackSuggestionID string
	feedbackType         string
	feedbackOriginal     string
	feedbackFinal        string
	feedbackPatternID    string
	feedbackFile         string
	feedbackOperation    string
	feedbackConfidence   float64
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record an accept/reject/modify/ignore decision about a suggestion",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		event, err := a.feedback.Record(ctx, protocol.FeedbackRequest{
			SuggestionID: feedbackSuggestionID,
			Type:         protocol.FeedbackType(feedbackType),
			Original:     feedbackOriginal,
			Final:        feedbackFinal,
			PatternID:    feedbackPatternID,
			Context: protocol.FeedbackContext{
				File:       feedbackFile,
				Operation:  feedbackOperation,
				Confidence: feedbackConfidence,
			},
		})
		if err != nil {
			return err
		}
		return printJSON(event)
	}),
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackSuggestionID, "suggestion-id", "", "ID of the suggestion being judged")
	feedbackCmd.Flags().StringVar(&feedbackType, "type", "", "accept | reject | modify | ignore")
	feedbackCmd.Flags().StringVar(&feedbackOriginal, "original", "", "the suggestion as offered")
	feedbackCmd.Flags().StringVar(&feedbackFinal, "final", "", "what the user actually kept, if modified")
	feedbackCmd.Flags().StringVar(&feedbackPatternID, "pattern-id", "", "pattern this suggestion came from, if any")
	feedbackCmd.Flags().StringVar(&feedbackFile, "file", "", "file the suggestion applied to")
	feedbackCmd.Flags().StringVar(&feedbackOperation, "operation", "", "operation the suggestion came from (e.g. refactoring)")
	feedbackCmd.Flags().Float64Var(&feedbackConfidence, "confidence", 0, "confidence the suggestion was offered with")
	feedbackCmd.MarkFlagRequired("suggestion-id")
	feedbackCmd.MarkFlagRequired("type")
}
