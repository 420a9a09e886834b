package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the HTTP API.
func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

The server starts listening immediately and loads or builds the vector
index in the background. Until the index is ready POST /ask answers 503.
If the index cannot be built the server keeps running and keeps answering
503; check the logs and /readyz.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  docqa serve

  # Start with a config file and debug logging
  docqa serve --config /etc/docqa/docqa.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildIndexCmd creates the "index" command.
func buildIndexCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the vector index",
		Long: `Build the vector index for the configured document.

An existing index is reused when it was built from the same document with
the same chunking and embedding settings. Use --force to rebuild anyway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, *configPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even if the index is current")
	return cmd
}

// buildAskCmd creates the "ask" command.
func buildAskCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Example: `  docqa ask "What is Semanto's current role?"
  docqa ask --session demo "Where is it based?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, *configPath, sessionID, args)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (default: a new random session)")
	return cmd
}

// buildChatCmd creates the "chat" command.
func buildChatCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in one session",
		Long: `Read questions from standard input, one per line, and print each answer.
Type "exit" or send EOF to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, *configPath, sessionID)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (default: a new random session)")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}
