package memrepo

import (
	"log/slog"
	"sync/atomic"

	"github.com/i2y/oapimcp/internal/usecase"
)

// RegistryStore holds the live registry in memory. Readers never block:
// invocations load the current pointer while a rebuild swaps in a new one.
// NOTE: The registry is not persisted and is rebuilt from the spec on restart.
type RegistryStore struct {
	current atomic.Pointer[usecase.Registry]
	logger  *slog.Logger
}

// NewRegistryStore creates an empty store.
func NewRegistryStore(logger *slog.Logger) *RegistryStore {
	return &RegistryStore{logger: logger.With("component", "mem_repo")}
}

// Current returns the live registry, or nil before the first build.
func (s *RegistryStore) Current() *usecase.Registry {
	return s.current.Load()
}

// Swap installs next and returns the registry it replaced.
func (s *RegistryStore) Swap(next *usecase.Registry) *usecase.Registry {
	prev := s.current.Swap(next)
	if next != nil {
		prevCount := 0
		if prev != nil {
			prevCount = prev.Len()
		}
		s.logger.Info("Installed registry",
			slog.String("api", next.API()),
			slog.Int("handles", next.Len()),
			slog.Int("previous_handles", prevCount))
	} else {
		s.logger.Debug("Cleared registry")
	}
	return prev
}

var _ usecase.RegistryStore = (*RegistryStore)(nil)
