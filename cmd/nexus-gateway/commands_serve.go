package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexusgw/gateway/internal/auth"
	"github.com/nexusgw/gateway/internal/config"
	"github.com/nexusgw/gateway/internal/httpapi"
	"github.com/nexusgw/gateway/internal/memorystore"
	"github.com/nexusgw/gateway/internal/orchestrator"
	"github.com/nexusgw/gateway/internal/permissions"
	"github.com/nexusgw/gateway/internal/providers"
	"github.com/nexusgw/gateway/internal/providers/bedrock"
	"github.com/nexusgw/gateway/internal/registry"
	"github.com/nexusgw/gateway/internal/tools"
)

// buildServeCmd creates the "serve" command that starts the gateway's HTTP
// server with all configured providers, the tool executor, and conversation
// memory store wired up.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the banking LLM gateway HTTP server",
		Long: `Start the gateway's HTTP server: loads configuration, opens the
conversation memory store, wires the six vendor adapters behind the ABAC
tool-calling orchestrator, and serves /chat, /v1/chat, /permissions,
/models, /switch-model, /threads/{id}/close, /health, and /metrics.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	reg, err := registry.New(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if err := reg.Watch(logger); err != nil {
		logger.Warn("registry: hot-reload watch unavailable", "error", err)
	}
	if cfg.Providers.Bedrock.Region != "" {
		added, err := reg.MergeBedrockDiscovery(ctx, &bedrock.DiscoveryConfig{
			Region:          cfg.Providers.Bedrock.Region,
			AccessKeyID:     cfg.Providers.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Providers.Bedrock.SecretAccessKey,
			SessionToken:    cfg.Providers.Bedrock.SessionToken,
		})
		if err != nil {
			logger.Warn("registry: bedrock model discovery unavailable", "error", err)
		} else {
			logger.Info("registry: merged discovered bedrock models", "count", added)
		}
	}

	memory, err := memorystore.Open(memorystore.Config{
		Path:          cfg.Memory.Path,
		TTL:           cfg.Memory.TTL,
		SweepInterval: cfg.Memory.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memory.Close()

	catalog := permissions.DefaultCatalog()
	resolver := permissions.NewResolver(catalog)

	toolRegistry := tools.NewRegistry(tools.BackendConfig{
		FinanceServiceURL: cfg.Banking.FinanceServiceURL,
		UserServiceURL:    cfg.Banking.UserServiceURL,
		RAGServiceURL:     cfg.Banking.RAGServiceURL,
		Timeout:           cfg.Banking.Timeout,
	})
	executor := tools.NewExecutor(toolRegistry, cfg.Banking.Concurrency)

	orch := orchestrator.New(memory, resolver, executor, catalog)

	factory := providers.NewFactory(cfg.Providers, reg)
	selector := httpapi.NewModelSelector(reg, factory, httpapi.Selection{
		Provider: cfg.Providers.Default.Provider,
		Model:    cfg.Providers.Default.Model,
	})

	validator := auth.NewPrincipalValidator(cfg.Auth.JWTSecret, cfg.Auth.Audience)

	server := &httpapi.Server{
		Orchestrator: orch,
		Memory:       memory,
		Resolver:     resolver,
		Registry:     reg,
		Selector:     selector,
		Validator:    validator,
		Logger:       logger,
		StartedAt:    time.Now(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Mux()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("gateway: shutting down")
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
