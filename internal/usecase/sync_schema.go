package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/i2y/oapimcp/internal/domain"
)

// SyncSchemaConfig describes which document to load and how to expose it.
type SyncSchemaConfig struct {
	Source  domain.SpecSource
	APIName string
	// BaseURL overrides the servers declared by the document.
	BaseURL   string
	NameStyle domain.NameStyle
}

// SyncSchemaUseCase loads the OpenAPI document, builds a registry from it
// and swaps it in as the live one. A failed run leaves the live registry untouched.
type SyncSchemaUseCase struct {
	loader  SpecLoader
	invoker *Invoker
	store   RegistryStore
	server  MCPServerAdapter
	cfg     SyncSchemaConfig
	logger  *slog.Logger

	mu sync.Mutex
}

// NewSyncSchemaUseCase creates a new SyncSchemaUseCase. server may be nil
// when no MCP host is attached.
func NewSyncSchemaUseCase(
	loader SpecLoader,
	invoker *Invoker,
	store RegistryStore,
	server MCPServerAdapter,
	cfg SyncSchemaConfig,
	logger *slog.Logger,
) *SyncSchemaUseCase {
	return &SyncSchemaUseCase{
		loader:  loader,
		invoker: invoker,
		store:   store,
		server:  server,
		cfg:     cfg,
		logger:  logger.With("usecase", "SyncSchema"),
	}
}

// Execute builds the registry and publishes it. It is used both for the
// initial build and for every reload; concurrent calls are serialized.
func (uc *SyncSchemaUseCase) Execute(ctx context.Context) (*Registry, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	log := uc.logger.With(slog.String("source", uc.cfg.Source.String()))
	log.Info("Starting schema sync")

	spec, err := uc.loader.Load(ctx, uc.cfg.Source)
	if err != nil {
		log.Error("Failed to load spec", slog.Any("error", err))
		return nil, fmt.Errorf("failed to load spec from %s: %w", uc.cfg.Source, err)
	}
	log.Info("Spec loaded",
		slog.String("title", spec.Title),
		slog.String("openapi", spec.OpenAPIVersion),
		slog.Int("operations", len(spec.Operations)))

	baseURL := uc.cfg.BaseURL
	if baseURL == "" {
		baseURL = spec.ServerURL
	}
	if baseURL == "" {
		err := &domain.SpecError{
			Kind:   domain.KindSpecMalformed,
			Source: uc.cfg.Source.String(),
			Err:    errors.New("document declares no http(s) server and no base URL is configured"),
		}
		log.Error("Cannot resolve upstream base URL", slog.Any("error", err))
		return nil, err
	}

	reg := BuildRegistry(spec, BuildOptions{APIName: uc.cfg.APIName, NameStyle: uc.cfg.NameStyle}, uc.invoker.Binder(baseURL))
	previous := uc.store.Swap(reg)

	if uc.server != nil {
		var prevHandles []domain.Handle
		if previous != nil {
			prevHandles = previous.Handles()
		}
		if err := uc.server.Publish(ctx, reg.Handles(), prevHandles); err != nil {
			uc.store.Swap(previous)
			log.Error("Failed to publish handles, keeping previous registry", slog.Any("error", err))
			return nil, fmt.Errorf("failed to publish handles: %w", err)
		}
	}

	tools, resources := countKinds(reg.Handles())
	log.Info("Successfully synced schema",
		slog.String("base_url", baseURL),
		slog.Int("tools", tools),
		slog.Int("resources", resources))
	return reg, nil
}

func countKinds(handles []domain.Handle) (tools, resources int) {
	for _, h := range handles {
		if h.Kind == domain.HandleResource {
			resources++
		} else {
			tools++
		}
	}
	return tools, resources
}
