// Package main provides the CLI entry point for docqa, a conversational
// assistant that answers questions about a single document.
//
// # Basic Usage
//
// Start the HTTP API:
//
//	docqa serve --config docqa.yaml
//
// Build or refresh the vector index ahead of time:
//
//	docqa index --force
//
// Ask from the terminal:
//
//	docqa ask "What is Semanto's current role?"
//	docqa chat
//
// # Environment Variables
//
//   - DOCQA_CONFIG: path to the configuration file
//   - GOOGLE_API_KEY: Gemini chat and embedding models
//   - OPENAI_API_KEY: OpenAI chat and embedding models
//   - ANTHROPIC_API_KEY: Anthropic chat models
//
// A .env file in the working directory is loaded before the configuration.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docqa",
		Short: "docqa - conversational question answering over one document",
		Long: `docqa indexes a document (a resume PDF by default) into a vector index
and answers questions about it with a chat model, keeping a per-session
conversation history so follow-up questions work.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the configuration file (or set DOCQA_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildIndexCmd(&configPath),
		buildAskCmd(&configPath),
		buildChatCmd(&configPath),
		buildConfigCmd(&configPath),
	)
	return rootCmd
}
