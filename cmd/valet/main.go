// Package main provides the CLI entry point for the valet daemon.
//
// Valet is a personal assistant service: it takes chat messages over HTTP or
// WebSocket, asks an LLM what to do, and carries the answer out against a
// local execution agent that operates the user's machine. Replies, scheduled
// task results, and agent connectivity changes are pushed to live WebSocket
// listeners.
//
// # Basic Usage
//
// Start the daemon:
//
//	valet serve --config valet.yaml
//
// Print build information:
//
//	valet version
//
// # Environment Variables
//
// Configuration can be provided via environment variables, loaded from a
// .env file when one is present:
//
//   - ANTHROPIC_API_KEY: API key for the completion service
//   - API_SECRET: bearer token accepted by the HTTP and WebSocket surfaces
//   - BRIDGE_URL: base URL of the execution agent (default http://localhost:3000)
//   - BRIDGE_AUTH_TOKEN: bearer token sent to the execution agent
//   - VALET_DB_PATH: SQLite database path (default valet.db)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/valet/internal/auth"
	"github.com/haasonsaas/valet/internal/bridge"
	"github.com/haasonsaas/valet/internal/config"
	"github.com/haasonsaas/valet/internal/confirm"
	"github.com/haasonsaas/valet/internal/gateway"
	"github.com/haasonsaas/valet/internal/llm"
	"github.com/haasonsaas/valet/internal/observability"
	"github.com/haasonsaas/valet/internal/ratelimit"
	"github.com/haasonsaas/valet/internal/schedule"
	"github.com/haasonsaas/valet/internal/session"
	"github.com/haasonsaas/valet/internal/storage"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "valet",
		Short: "Valet - personal assistant daemon",
		Long: `Valet turns chat messages into actions on the user's machine.

It keeps one durable session per configured token, parses the completion
service's action, schedule, and preference directives, executes tools
through a local execution agent, and pushes results to WebSocket listeners.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the valet daemon",
		Long: `Start the valet daemon with the HTTP and WebSocket surfaces.

The daemon will:
1. Load configuration from the specified file (or environment variables)
2. Open the SQLite database for session state and the schedule registry
3. Re-arm persisted schedules and start the scheduler
4. Start probing the execution agent's health
5. Start the HTTP server for chat, schedules, state, health, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with environment variables only
  valet serve

  # Start with a config file
  valet serve --config /etc/valet/valet.yaml

  # Start with debug logging
  valet serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "valet %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}

// runServe implements the serve command: configuration, component wiring,
// and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting valet",
		"version", version,
		"commit", commit,
		"config", configPath,
		"sessions", len(cfg.Auth.Tokens),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionStore, err := session.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	scheduleStore, err := schedule.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("init schedule registry: %w", err)
	}

	metrics := observability.NewMetrics(nil)
	authService := auth.NewService(cfg.Auth.Tokens)
	hub := gateway.NewHub(logger)

	bridgeClient := bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.Token,
		bridge.WithTimeout(cfg.Bridge.Timeout),
		bridge.WithLogger(logger),
	)
	llmClient := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxTokens:  cfg.LLM.MaxTokens,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	}, logger)

	// The scheduler fires back into the orchestrator, so the runner closes
	// over a variable assigned right after.
	var orch *session.Orchestrator
	scheduler := schedule.NewScheduler(scheduleStore,
		func(ctx context.Context, rec *schedule.Record) { orch.HandleScheduled(ctx, rec) },
		schedule.WithLogger(logger),
	)
	orch = session.NewOrchestrator(sessionStore, llmClient, bridgeClient, scheduler,
		session.WithLogger(logger),
		session.WithLimiter(ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)),
		session.WithMatcher(confirm.NewMatcher(cfg.Confirm.Patterns)),
		session.WithClarifyField(cfg.Confirm.ClarifyField),
		session.WithPublisher(hub),
		session.WithMetrics(metrics),
	)

	if err := scheduler.Load(ctx); err != nil {
		return err
	}
	go func() {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("scheduler failed", "error", err)
		}
	}()

	monitor := bridge.NewMonitor(bridgeClient, cfg.Bridge.HealthInterval, logger, func(status bridge.Status) {
		hub.Broadcast(gateway.EventBridgeStatus, status)
	})
	go monitor.Run(ctx)

	server := gateway.NewServer(
		gateway.Config{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Version: version,
		},
		authService, orch, hub,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("valet started", "addr", server.Addr(), "bridge", cfg.Bridge.URL)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown incomplete", "error", err)
	}

	logger.Info("valet stopped gracefully")
	return nil
}
