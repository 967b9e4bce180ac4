package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"codeintel/internal/coreerr"
	"codeintel/internal/protocol"
)

var (
	learnOperation string
	learnDataPath  string
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Dispatch a learning operation (pattern learning, feedback recording, evolution tracking, team sharing, or a comprehensive pass)",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		var data []byte
		if learnDataPath != "" {
			raw, err := os.ReadFile(learnDataPath)
			if err != nil {
				return coreerr.New(coreerr.InvalidInput, "cmd_learn", "read-data", err)
			}
			data = raw
		} else {
			data = []byte("{}")
		}

		resp, err := a.orchestrator.Learn(ctx, protocol.LearnRequest{
			Operation: protocol.LearnOperation(learnOperation),
			Data:      protocol.Opaque(data),
		})
		if err != nil {
			printJSON(resp)
			return err
		}
		return printJSON(resp)
	}),
}

func init() {
	learnCmd.Flags().StringVar(&learnOperation, "operation", "", "pattern_learning | feedback_recording | evolution_tracking | team_sharing | comprehensive_analysis")
	learnCmd.Flags().StringVar(&learnDataPath, "data", "", "path to a JSON file holding the operation's typed payload (default: {})")
	learnCmd.MarkFlagRequired("operation")
}
