package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"codeintel/internal/coreerr"
	"codeintel/internal/protocol"
)

var (
	queryURI                string
	queryIdentifier         string
	queryLine               int
	queryCharacter          int
	queryIncludeDeclaration bool
	queryNewName            string
	queryPrefix             string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a lookup against the indexed workspace",
}

var queryDefinitionCmd = &cobra.Command{
	Use:   "definition",
	Short: "Find where an identifier is defined",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		resp := a.analyzer.FindDefinition(ctx, protocol.DefinitionRequest{
			Identifier:         queryIdentifier,
			URI:                queryURI,
			Position:           protocol.Position{Line: queryLine, Character: queryCharacter},
			IncludeDeclaration: queryIncludeDeclaration,
		})
		return printJSON(resp)
	}),
}

var queryReferencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Find all references to an identifier",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		resp := a.analyzer.FindReferences(ctx, protocol.ReferencesRequest{
			Identifier:         queryIdentifier,
			URI:                queryURI,
			Position:           protocol.Position{Line: queryLine, Character: queryCharacter},
			IncludeDeclaration: queryIncludeDeclaration,
		})
		return printJSON(resp)
	}),
}

var queryRenameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Compute the edits required to rename an identifier",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		if queryNewName == "" {
			return coreerr.New(coreerr.InvalidInput, "cmd_query", "rename", fmt.Errorf("--new-name is required"))
		}
		resp := a.analyzer.Rename(ctx, protocol.RenameRequest{
			Identifier: queryIdentifier,
			URI:        queryURI,
			Position:   protocol.Position{Line: queryLine, Character: queryCharacter},
			NewName:    queryNewName,
		})
		return printJSON(resp)
	}),
}

var queryRefactoringCmd = &cobra.Command{
	Use:   "refactoring",
	Short: "Suggest refactorings for a file",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		resp := a.analyzer.SuggestRefactoring(ctx, protocol.RefactoringRequest{URI: queryURI})
		return printJSON(resp)
	}),
}

var queryCompletionCmd = &cobra.Command{
	Use:   "completion",
	Short: "Suggest completions at a position",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		resp := a.analyzer.Completion(ctx, a.index, protocol.CompletionRequest{
			URI:      queryURI,
			Position: protocol.Position{Line: queryLine, Character: queryCharacter},
			Prefix:   queryPrefix,
		})
		return printJSON(resp)
	}),
}

func init() {
	for _, c := range []*cobra.Command{queryDefinitionCmd, queryReferencesCmd, queryRenameCmd, queryCompletionCmd} {
		c.Flags().StringVar(&queryIdentifier, "identifier", "", "identifier name to resolve")
		c.Flags().StringVar(&queryURI, "uri", "", "document URI")
		c.Flags().IntVar(&queryLine, "line", 0, "zero-based line")
		c.Flags().IntVar(&queryCharacter, "character", 0, "zero-based character offset")
		c.MarkFlagRequired("uri")
	}
	queryDefinitionCmd.Flags().BoolVar(&queryIncludeDeclaration, "include-declaration", false, "include the declaration site")
	queryReferencesCmd.Flags().BoolVar(&queryIncludeDeclaration, "include-declaration", true, "include the declaration site")
	queryRenameCmd.Flags().StringVar(&queryNewName, "new-name", "", "the identifier's replacement name")
	queryCompletionCmd.Flags().StringVar(&queryPrefix, "prefix", "", "prefix already typed at the cursor")

	queryRefactoringCmd.Flags().StringVar(&queryURI, "uri", "", "document URI")
	queryRefactoringCmd.MarkFlagRequired("uri")

	queryCmd.AddCommand(queryDefinitionCmd, queryReferencesCmd, queryRenameCmd, queryRefactoringCmd, queryCompletionCmd)
}

// withApp builds the app for a single command invocation, runs fn, then
// tears it down -- each CLI invocation is its own short-lived process, so
// there is no shared app lifetime to manage beyond one command's RunE.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return coreerr.New(coreerr.InvalidInput, "cmd", "loadConfig", err)
		}

		baseCtx := cmd.Context()
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		ctx, cancel := context.WithTimeout(baseCtx, timeout)
		defer cancel()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return coreerr.New(coreerr.DependencyFailed, "cmd", "buildApp", err)
		}
		defer a.Close()

		return fn(ctx, a, cmd, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(cliOut)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
