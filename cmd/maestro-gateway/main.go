// Maestro tool gateway. Fronts the backend tool servers with health
// checks, circuit breakers, caching and batch execution.
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

	"github.com/polyphonic-ai/maestro/pkg/config"
	"github.com/polyphonic-ai/maestro/pkg/gateway"
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

	httpPort := getEnv("GATEWAY_PORT", "8000")
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting maestro gateway",
		"http_port", httpPort,
		"backends", cfg.Stats().Backends,
		"health_check_interval", cfg.HealthCheckInterval)

	// 2. Create the gateway and register configured backends. A backend
	// that fails its first probe still registers; the health monitor
	// picks it up when it comes online.
	gw := gateway.New(cfg)
	for _, backend := range cfg.Backends {
		if !backend.Enabled {
			slog.Info("Skipping disabled backend", "backend", backend.Name)
			continue
		}
		if err := gw.RegisterBackend(ctx, backend); err != nil {
			slog.Warn("Backend registered unhealthy", "backend", backend.Name, "error", err)
		} else {
			slog.Info("Backend registered", "backend", backend.Name, "url", backend.URL)
		}
	}

	// 3. Start the health monitor
	monitor := gateway.NewHealthMonitor(gw, cfg.HealthCheckInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	// 4. Start the HTTP server (non-blocking)
	httpServer := gateway.NewServer(gw)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 5. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
