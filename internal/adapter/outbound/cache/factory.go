package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/i2y/oapimcp/internal/usecase"
)

// Options select and configure a backend.
type Options struct {
	Backend    string // memory, redis, bolt or none
	MaxEntries int
	Redis      RedisOptions
	BoltPath   string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the backend named by opts.Backend. The returned closer releases
// backend resources and is never nil.
func New(ctx context.Context, opts Options, logger *slog.Logger) (usecase.CacheProvider, io.Closer, error) {
	logger = logger.With("component", "cache")
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case "", "memory":
		logger.Info("Using in-memory response cache", "max_entries", opts.MaxEntries)
		return NewMemory(opts.MaxEntries), nopCloser{}, nil
	case "redis":
		r, err := NewRedis(ctx, opts.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using redis response cache", "addr", opts.Redis.Addr, "db", opts.Redis.DB)
		return r, r, nil
	case "bolt":
		b, err := OpenBolt(opts.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using bolt response cache", "path", opts.BoltPath)
		return b, b, nil
	case "none":
		logger.Info("Response caching disabled")
		return Noop{}, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
