// Maestro orchestrator server. Plans queries into agent DAGs, executes
// them against the tool gateway and serves the HTTP API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/polyphonic-ai/maestro/pkg/api"
	"github.com/polyphonic-ai/maestro/pkg/config"
	"github.com/polyphonic-ai/maestro/pkg/events"
	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/notify"
	"github.com/polyphonic-ai/maestro/pkg/orchestrator"
	"github.com/polyphonic-ai/maestro/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Starting maestro",
		"http_port", httpPort,
		"llm_provider", stats.Provider,
		"llm_model", cfg.LLM.Model,
		"gateway_url", cfg.GatewayURL,
		"max_parallel_agents", stats.MaxParallel)

	// 2. Create LLM client
	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}

	// 3. Connect the optional session store
	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		slog.Info("Connected to PostgreSQL, session persistence enabled")
	} else {
		slog.Info("DATABASE_URL not set, sessions kept in memory only")
	}

	// 4. Wire the orchestrator service and optional Slack notifier
	broker := events.NewBroker()
	svc := orchestrator.New(cfg, llmClient, broker)
	notifier := notify.NewService(cfg.SlackToken, cfg.SlackChannel)
	if notifier != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.SlackChannel)
	}

	// 5. Start the HTTP server (non-blocking)
	httpServer := api.NewServer(svc, st, notifier)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
