package metrics

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/i2y/oapimcp/internal/usecase"
)

// Backend names accepted by New.
const (
	BackendMemory     = "memory"
	BackendPrometheus = "prometheus"
	BackendOTel       = "otel"
)

// New builds the recorder for backend. registerer is used by the prometheus
// backend; the otel backend uses the global MeterProvider.
func New(backend string, history int, registerer prometheus.Registerer, logger *slog.Logger) (usecase.MetricsRecorder, error) {
	logger = logger.With("component", "metrics")
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		logger.Info("Using in-memory metrics", "history", history)
		return NewMemory(history), nil
	case BackendPrometheus:
		logger.Info("Using prometheus metrics")
		return NewPrometheus(registerer, history), nil
	case BackendOTel:
		logger.Info("Using OpenTelemetry metrics")
		return NewOTel(otel.GetMeterProvider(), history)
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}
