package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	mcpGoServer "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/i2y/oapimcp/configs"
	"github.com/i2y/oapimcp/internal/adapter/outbound/github"
)

const serviceName = "oapimcp"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

type flags struct {
	configPath string
	spec       string
	transport  string
	baseURL    string
	adminAddr  string
	logLevel   string
	watch      bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "oapimcp [spec]",
		Short: "Serve an OpenAPI 3 document as MCP tools and resources",
		Long: `oapimcp loads an OpenAPI 3.x document, turns every operation into an MCP
tool or resource and forwards invocations to the upstream HTTP API with
authentication, caching and retries.

The spec may be a local path, an http(s) URL or github://owner/repo/path[@ref].`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.spec = args[0]
			}
			return run(cmd.Context(), cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file (default $OAPIMCP_CONFIG_FILE)")
	cmd.Flags().StringVar(&f.spec, "spec", "", "OpenAPI document location")
	cmd.Flags().StringVar(&f.transport, "transport", "", "Transport mode: stdio or sse")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Upstream base URL, overriding the document servers")
	cmd.Flags().StringVar(&f.adminAddr, "admin-addr", "", "Address of the admin HTTP server (disabled when empty)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "Rebuild handles when a local spec file changes")
	return cmd
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cmd *cobra.Command, f flags, cfg *configs.Config) {
	if f.spec != "" {
		cfg.Spec = f.spec
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = f.transport
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.AdminAddr = f.adminAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("watch") {
		cfg.WatchSpec = f.watch
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	// === Configuration ===
	cfg, err := configs.Load(ctx, f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Transport = strings.ToLower(cfg.Transport)

	// === Logging ===
	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", cfg.ParsedLogLevel().String()), slog.String("transport", cfg.Transport))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry providers.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Failed to close cache backend.", slog.Any("error", err))
		}
	}()

	// === Initial Schema Sync ===
	// A broken spec at startup is fatal: there would be nothing to serve.
	logger.Info("Performing initial schema synchronization...")
	reg, err := a.sync.Execute(ctx)
	if err != nil {
		return fmt.Errorf("initial schema sync failed: %w", err)
	}
	logger.Info("Initial schema sync completed successfully.", slog.Int("handles", reg.Len()))

	g, gctx := errgroup.WithContext(ctx)

	// === Spec Watcher ===
	if cfg.WatchSpec {
		if isLocalPath(cfg.Spec) {
			g.Go(func() error { return watchSpec(gctx, cfg.Spec, a.reload, logger) })
		} else {
			logger.Warn("Spec watching only applies to local files, ignoring.", slog.String("spec", cfg.Spec))
		}
	}

	// === Admin HTTP Server ===
	if cfg.AdminAddr != "" {
		adminServer := &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      a.adminHandler(),
			ReadTimeout:  cfg.ServerReadTimeout,
			WriteTimeout: cfg.ServerWriteTimeout,
			IdleTimeout:  cfg.ServerIdleTimeout,
		}
		g.Go(func() error {
			logger.Info("Admin HTTP server starting.", slog.String("address", adminServer.Addr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin HTTP server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return adminServer.Shutdown(shutdownCtx)
		})
	}

	// === Transport Mode Selection ===
	switch cfg.Transport {
	case configs.TransportStdio:
		g.Go(func() error {
			logger.Info("Starting in STDIO mode")
			err := mcpGoServer.NewStdioServer(a.mcp).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("STDIO server error: %w", err)
			}
			// EOF on stdin ends the session and the process with it.
			return errStopped
		})
	case configs.TransportSSE:
		publicURL := cfg.PublicURL
		if publicURL == "" {
			publicURL = "http://localhost" + cfg.ListenAddr
		}
		sseServer := mcpGoServer.NewSSEServer(a.mcp, mcpGoServer.WithBaseURL(publicURL))
		g.Go(func() error {
			logger.Info("MCP SSE server starting.", slog.String("address", cfg.ListenAddr), slog.String("base_url", publicURL))
			if err := sseServer.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("MCP SSE server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return sseServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("Servers shut down.")
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// errStopped ends the errgroup when the stdio session closes.
var errStopped = errors.New("session closed")

// newLogger writes to stderr, or in stdio mode to a file since stdout carries
// protocol traffic there. An unwritable log file discards logs.
func newLogger(cfg *configs.Config) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: cfg.ParsedLogLevel()}
	if cfg.Transport != configs.TransportStdio {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}
	}
	path := cfg.LogFile
	if path == "" {
		path = filepath.Join(os.TempDir(), serviceName+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}
	}
	return slog.New(slog.NewTextHandler(file, opts)), func() { _ = file.Close() }
}

func isLocalPath(spec string) bool {
	if github.IsGitHubURL(spec) {
		return false
	}
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return false
	}
	return spec != ""
}
