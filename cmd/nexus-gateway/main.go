// Command nexus-gateway is the CLI entry point for the banking LLM gateway.
//
// Start the server:
//
//	nexus-gateway serve --config gateway.yaml
//
// Apply the conversation-memory store's schema without starting the server:
//
//	nexus-gateway migrate
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexus-gateway",
		Short: "Provider-agnostic LLM banking gateway",
		Long: `nexus-gateway fronts six vendor LLM providers behind a single API, enforcing
ABAC tool authorization and a bounded tool-calling loop over a fixed catalog
of banking operations.`,
	}

	cmd.AddCommand(buildServeCmd())
	cmd.AddCommand(buildMigrateCmd())

	return cmd
}
