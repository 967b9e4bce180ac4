// Package main implements the codeintel CLI: a cobra-based command surface
// over the query/feedback/learn core operations and the serve command that
// exposes them over MCP, LSP, and HTTP.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"codeintel/internal/config"
	"codeintel/internal/coreerr"
	"codeintel/internal/logging"
)

var (
	verbose    bool
	configPath string
	dbPath     string
	timeout    time.Duration

	// cliOut is where query/feedback/learn results are printed; a variable
	// rather than a bare os.Stdout reference so tests can redirect it.
	cliOut io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "codeintel",
	Short: "codeintel - a layered code-intelligence core",
	Long: `codeintel resolves definitions, references, renames, refactoring
suggestions, and completions over an indexed workspace, learns from
accepted/rejected suggestions, tracks how the workspace evolves over time,
and shares validated patterns across a team.

Run 'codeintel serve' to expose these operations over MCP, LSP, and HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Configure(verbose)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database.path from config")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")

	rootCmd.AddCommand(queryCmd, feedbackCmd, learnCmd, serveCmd)
}

// loadConfig resolves the effective configuration: --config file if given
// (falling back to built-in defaults if absent), with --db layered on top.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode maps an error to the CLI's exit code: 0 success, 1 invalid
// input, 2 everything else. Mirrors the taxonomy in internal/coreerr.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.InvalidInput {
		return 1
	}
	return 2
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
