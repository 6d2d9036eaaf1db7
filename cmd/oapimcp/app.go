package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	mcpGoServer "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i2y/oapimcp/configs"
	"github.com/i2y/oapimcp/internal/adapter/inbound/mcphttp"
	"github.com/i2y/oapimcp/internal/adapter/inbound/mcpserver"
	"github.com/i2y/oapimcp/internal/adapter/outbound/auth"
	"github.com/i2y/oapimcp/internal/adapter/outbound/cache"
	"github.com/i2y/oapimcp/internal/adapter/outbound/github"
	"github.com/i2y/oapimcp/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/oapimcp/internal/adapter/outbound/jsonschema"
	"github.com/i2y/oapimcp/internal/adapter/outbound/memrepo"
	"github.com/i2y/oapimcp/internal/adapter/outbound/metrics"
	"github.com/i2y/oapimcp/internal/adapter/outbound/openapi"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

// app is the wired process: one MCP server, the live registry store and the
// use cases operating on it.
type app struct {
	mcp      *mcpGoServer.MCPServer
	sync     *usecase.SyncSchemaUseCase
	serve    *usecase.ServeToolsUseCase
	metrics  usecase.MetricsRecorder
	exporter http.Handler
	closers  []io.Closer
	logger   *slog.Logger
}

// buildApp constructs every component from cfg. Nothing is loaded yet; call
// app.sync.Execute for the initial build.
func buildApp(ctx context.Context, cfg *configs.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	// --- Cache ---
	responses, closer, err := cache.New(ctx, cfg.CacheOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	a.closers = append(a.closers, closer)
	var tokens usecase.CacheProvider
	if !strings.EqualFold(cfg.Cache.Backend, "none") {
		tokens = responses
	}

	// --- Metrics ---
	var registerer prometheus.Registerer
	if strings.EqualFold(cfg.Metrics.Backend, metrics.BackendPrometheus) {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registerer = registry
		a.exporter = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	a.metrics, err = metrics.New(cfg.Metrics.Backend, cfg.Metrics.History, registerer, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	// --- HTTP ---
	httpOpts := cfg.HTTPOptions()
	httpClient := httpinvoker.NewHTTPClient(httpOpts)
	executor := httpinvoker.NewClient(httpClient, responses, httpOpts, logger)
	policy := cfg.RetryPolicy()

	// --- Auth ---
	strategy, err := auth.NewResolver(httpClient, tokens, policy, logger).Resolve(cfg.AuthConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to resolve auth: %w", err)
	}

	// --- Invocation ---
	invoker := usecase.NewInvoker(
		jsonschema.NewValidator(logger),
		httpinvoker.NewRequestBuilder(),
		strategy,
		executor,
		a.metrics,
		policy,
		logger,
	)
	store := memrepo.NewRegistryStore(logger)

	// --- MCP server ---
	a.mcp = mcpGoServer.NewMCPServer(
		serviceName,
		version,
		mcpGoServer.WithToolCapabilities(true),
		mcpGoServer.WithResourceCapabilities(false, true),
		mcpGoServer.WithRecovery(),
	)
	publisher := mcpserver.New(a.mcp, usecase.NewInvokeToolUseCase(store, logger), logger)

	// --- Use cases ---
	loader := openapi.NewSpecLoader(httpClient, openapi.LoaderOptions{
		Strict:               cfg.StrictSpec,
		DisableAutoDiscovery: cfg.DisableAutoDiscovery,
	}, logger).WithGitHub(github.NewFetcher(nil, logger))
	a.sync = usecase.NewSyncSchemaUseCase(loader, invoker, store, publisher, usecase.SyncSchemaConfig{
		Source:    cfg.SpecSource(),
		APIName:   apiName(cfg),
		BaseURL:   cfg.BaseURL,
		NameStyle: domain.NameStyle(strings.ToLower(cfg.NameStyle)),
	}, logger)
	a.serve = usecase.NewServeToolsUseCase(store, logger)
	return a, nil
}

// adminHandler serves the admin endpoints.
func (a *app) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mcphttp.NewHandlers(a.sync, a.serve, a.metrics, a.exporter, a.logger).RegisterAdminRoutes(mux)
	return mux
}

// reload rebuilds the registry, discarding the result.
func (a *app) reload(ctx context.Context) error {
	_, err := a.sync.Execute(ctx)
	return err
}

// Close releases cache backends.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// apiName falls back to the spec file name when no API name is configured.
func apiName(cfg *configs.Config) string {
	if cfg.APIName != "" {
		return cfg.APIName
	}
	name := cfg.Spec
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, ".@?"); i > 0 {
		name = name[:i]
	}
	if name == "" {
		return "api"
	}
	return name
}
