package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/i2y/oapimcp/internal/domain"
)

// Prometheus exports samples as prometheus collectors.
type Prometheus struct {
	*Memory
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cacheHits   *prometheus.CounterVec
}

// NewPrometheus registers the collectors on registerer, or the default
// registerer when nil.
func NewPrometheus(registerer prometheus.Registerer, history int) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Prometheus{
		Memory: NewMemory(history),
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oapimcp_invocations_total",
				Help: "Total number of handle invocations by outcome",
			},
			[]string{"handle", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oapimcp_invocation_duration_seconds",
				Help:    "Duration of handle invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"handle"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oapimcp_cache_hits_total",
				Help: "Total number of invocations served from the response cache",
			},
			[]string{"handle"},
		),
	}
}

func (p *Prometheus) Record(s domain.MetricSample) {
	p.Memory.Record(s)
	p.invocations.WithLabelValues(s.Handle, string(s.Outcome)).Inc()
	p.latency.WithLabelValues(s.Handle).Observe(s.Latency.Seconds())
	if s.Cached {
		p.cacheHits.WithLabelValues(s.Handle).Inc()
	}
}
