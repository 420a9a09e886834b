package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/docqa/internal/app"
	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/internal/server"
)

func loadConfig(path string) (*config.Config, error) {
	path = config.ResolvePath(path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// runServe implements the serve command: background index initialization,
// optional document watching, and the HTTP server until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	slog.Info("starting docqa",
		"version", version,
		"commit", commit,
		"config", config.ResolvePath(configPath),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	opts := []server.Option{
		server.WithLogger(a.Logger()),
		server.WithMetrics(a.Metrics()),
		server.WithTracer(a.Tracer()),
	}
	if !cfg.Observability.DisableMetrics {
		opts = append(opts, server.WithGatherer(a.Registry()))
	}
	srv := server.New(cfg.Server, a.Service(), opts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	a.Start(ctx)
	if cfg.Watch.Enabled {
		if err := a.Watch(ctx); err != nil {
			a.Logger().Warn(ctx, "document watching disabled", "error", err)
		}
	}
	if cfg.Watch.Schedule != "" {
		if err := a.Schedule(ctx); err != nil {
			a.Logger().Warn(ctx, "scheduled refresh disabled", "error", err)
		}
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	if err := srv.Stop(context.Background()); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("docqa stopped gracefully")
	return nil
}

// runIndex builds or loads the index and reports what happened.
func runIndex(cmd *cobra.Command, configPath string, force bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.Initialize(cmd.Context(), force)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index:       %s\n", cfg.Index.Dir)
	fmt.Fprintf(out, "Mode:        %s\n", result.Mode)
	if result.Reason != "" {
		fmt.Fprintf(out, "Reason:      %s\n", result.Reason)
	}
	fmt.Fprintf(out, "Chunks:      %d\n", result.ChunkCount)
	fmt.Fprintf(out, "Fingerprint: %s\n", result.Fingerprint)
	fmt.Fprintf(out, "Duration:    %s\n", result.Duration.Round(1e6))
	return nil
}

// newSession returns id, or a fresh random session ID when id is empty.
func newSession(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// runAsk answers one question.
func runAsk(cmd *cobra.Command, configPath, sessionID string, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if _, err := a.Initialize(cmd.Context(), false); err != nil {
		return err
	}
	answer, err := a.Service().Ask(cmd.Context(), newSession(sessionID), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

// runChat reads questions line by line and answers them in one session.
func runChat(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if _, err := a.Initialize(cmd.Context(), false); err != nil {
		return err
	}

	sessionID = newSession(sessionID)
	interactive := isTerminal(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	if interactive {
		fmt.Fprintf(out, "Session %s. Type \"exit\" to quit.\n", sessionID)
	}
	return chatLoop(cmd.Context(), cmd.InOrStdin(), out, interactive, func(ctx context.Context, q string) (string, error) {
		return a.Service().Ask(ctx, sessionID, q)
	})
}

type askFunc func(ctx context.Context, question string) (string, error)

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, prompt bool, ask askFunc) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			if prompt {
				fmt.Fprintln(out)
			}
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer, err := ask(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if path := config.ResolvePath(configPath); path != "" {
		if err := config.ValidateFile(path); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (document %s, llm %s/%s, embeddings %s/%s, sessions %s)\n",
		cfg.Document.Path, cfg.LLM.Provider, cfg.LLM.Model,
		cfg.Embeddings.Provider, cfg.Embeddings.Model, cfg.Sessions.Backend)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
