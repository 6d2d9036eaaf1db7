package mcphttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

// Reloader rebuilds the registry from the configured spec.
type Reloader interface {
	Execute(ctx context.Context) (*usecase.Registry, error)
}

// HandleLister lists the live handles.
type HandleLister interface {
	Execute(ctx context.Context) ([]domain.Handle, error)
}

// StatsReader exposes the aggregated invocation metrics.
type StatsReader interface {
	Snapshot() domain.MetricsSnapshot
}

// Handlers struct holds dependencies for the admin HTTP handlers.
type Handlers struct {
	reloader Reloader
	lister   HandleLister
	stats    StatsReader
	exporter http.Handler
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers struct. exporter serves /metrics and may be nil.
func NewHandlers(
	reloader Reloader,
	lister HandleLister,
	stats StatsReader,
	exporter http.Handler,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		reloader: reloader,
		lister:   lister,
		stats:    stats,
		exporter: exporter,
		logger:   logger.With("component", "mcphttp_handler"),
	}
}

// RegisterAdminRoutes sets up the HTTP routes for admin endpoints.
func (h *Handlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/reload", h.handleReload)
	mux.HandleFunc("GET /admin/handles", h.handleListHandles)
	mux.HandleFunc("GET /admin/stats", h.handleStats)
	if h.exporter != nil {
		mux.Handle("GET /metrics", h.exporter)
	}
}

// ReloadResponse is returned by POST /admin/reload.
type ReloadResponse struct {
	API     string    `json:"api"`
	Handles int       `json:"handles"`
	BuiltAt time.Time `json:"built_at"`
}

// HandleInfo is one entry of GET /admin/handles.
type HandleInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Path   string `json:"path"`
	URI    string `json:"uri,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleReload implements POST /admin/reload
func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Received reload request")
	reg, err := h.reloader.Execute(r.Context())
	if err != nil {
		h.logger.Error("Failed to reload registry", slog.Any("error", err))
		status := http.StatusInternalServerError
		var specErr *domain.SpecError
		if errors.As(err, &specErr) {
			status = http.StatusUnprocessableEntity
			if specErr.Kind == domain.KindSpecUnreachable {
				status = http.StatusBadGateway
			}
		}
		h.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))})
		return
	}
	h.writeJSON(w, http.StatusOK, ReloadResponse{API: reg.API(), Handles: reg.Len(), BuiltAt: reg.BuiltAt()})
	h.logger.Info("Reload completed", slog.Int("handles", reg.Len()))
}

// handleListHandles implements GET /admin/handles
func (h *Handlers) handleListHandles(w http.ResponseWriter, r *http.Request) {
	handles, err := h.lister.Execute(r.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrNoRegistry) {
			h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to list handles", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	out := make([]HandleInfo, 0, len(handles))
	for _, hd := range handles {
		out = append(out, HandleInfo{
			Name:   hd.Name,
			Kind:   string(hd.Kind),
			Method: hd.Operation.Method,
			Path:   hd.Operation.Path,
			URI:    hd.URI,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// handleStats implements GET /admin/stats
func (h *Handlers) handleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", slog.Any("error", err))
	}
}
