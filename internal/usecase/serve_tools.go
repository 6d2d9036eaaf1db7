package usecase

import (
	"context"
	"log/slog"

	"github.com/i2y/oapimcp/internal/domain"
)

// ServeToolsUseCase lists the handles of the live registry.
type ServeToolsUseCase struct {
	store  RegistryStore
	logger *slog.Logger
}

// NewServeToolsUseCase creates a new ServeToolsUseCase.
func NewServeToolsUseCase(store RegistryStore, logger *slog.Logger) *ServeToolsUseCase {
	return &ServeToolsUseCase{
		store:  store,
		logger: logger.With("usecase", "ServeTools"),
	}
}

// Execute returns the live handles in declaration order.
func (uc *ServeToolsUseCase) Execute(ctx context.Context) ([]domain.Handle, error) {
	reg := uc.store.Current()
	if reg == nil {
		uc.logger.Warn("Handles requested before first build")
		return nil, ErrNoRegistry
	}
	handles := reg.Handles()
	uc.logger.Debug("Listing handles", slog.Int("count", len(handles)))
	return handles, nil
}
