// specsmith server — drives multi-agent requirements analysis sessions over
// an HTTP and streaming API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/specsmith/specsmith/pkg/api"
	"github.com/specsmith/specsmith/pkg/cleanup"
	"github.com/specsmith/specsmith/pkg/clock"
	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/flow"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/store"
)

// Exit codes follow sysexits conventions.
const (
	exitOK          = 0
	exitConfig      = 64
	exitUnavailable = 69
	exitInternal    = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, using existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return exitConfig
	}

	ctx := context.Background()
	cl := clock.System()

	st, err := store.Open(ctx, cfg.StorePath, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return exitInternal
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Error closing store", "error", cerr)
		}
	}()

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
		return exitUnavailable
	}
	gateway := llm.NewGateway(provider, cfg.LLM.MaxConcurrent, cl)
	slog.Info("LLM gateway initialized",
		"provider", provider.Name(), "max_concurrent", cfg.LLM.MaxConcurrent)

	bus := events.New(cl, st, 0)
	manager := flow.NewManager(cfg, st, bus, gateway, cl)
	if err := manager.Run(ctx); err != nil {
		slog.Error("Failed to recover sessions", "error", err)
		return exitInternal
	}

	purge := cleanup.New(st, cl, cfg.Retention.SessionTTL, cfg.Retention.CleanupInterval)
	purge.Start()

	server := api.NewServer(manager, st, gateway)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	code := exitOK
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		code = exitInternal
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	purge.Stop()
	manager.Stop()
	slog.Info("Shutdown complete")
	return code
}

func buildProvider(cfg *config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, errors.New("LLM_API_KEY is required for the anthropic provider")
		}
		return llm.NewAnthropicProvider(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("LLM_API_KEY is required for the openai provider")
		}
		return llm.NewOpenAIProvider(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	case "mock":
		return &llm.MockProvider{}, nil
	default:
		return nil, errors.New("unknown provider " + cfg.Provider)
	}
}
