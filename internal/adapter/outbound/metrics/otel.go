package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/i2y/oapimcp/internal/domain"
)

const meterName = "github.com/i2y/oapimcp"

// OTel records samples as OpenTelemetry instruments.
type OTel struct {
	*Memory
	invocations metric.Int64Counter
	cacheHits   metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewOTel creates the instruments on provider.
func NewOTel(provider metric.MeterProvider, history int) (*OTel, error) {
	meter := provider.Meter(meterName)
	o := &OTel{Memory: NewMemory(history)}

	var err error
	o.invocations, err = meter.Int64Counter("oapimcp.invocation.total",
		metric.WithDescription("Total number of handle invocations"),
		metric.WithUnit("{invocation}"))
	if err != nil {
		return nil, fmt.Errorf("create invocation counter: %w", err)
	}
	o.cacheHits, err = meter.Int64Counter("oapimcp.cache.hit.total",
		metric.WithDescription("Invocations served from the response cache"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, fmt.Errorf("create cache hit counter: %w", err)
	}
	o.duration, err = meter.Float64Histogram("oapimcp.invocation.duration",
		metric.WithDescription("Duration of handle invocations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return o, nil
}

func (o *OTel) Record(s domain.MetricSample) {
	o.Memory.Record(s)
	ctx := context.Background()
	handle := attribute.String("handle", s.Handle)
	o.invocations.Add(ctx, 1, metric.WithAttributes(handle, attribute.String("outcome", string(s.Outcome))))
	o.duration.Record(ctx, s.Latency.Seconds(), metric.WithAttributes(handle))
	if s.Cached {
		o.cacheHits.Add(ctx, 1, metric.WithAttributes(handle))
	}
}
