package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
)

const tracerName = "github.com/i2y/oapimcp/internal/usecase"

// Invoker runs the invocation lifecycle of a handle:
// received -> validated -> authenticated -> cache check -> dispatched -> completed|failed.
type Invoker struct {
	validator ArgumentValidator
	builder   RequestBuilder
	auth      AuthStrategy
	executor  HTTPExecutor
	metrics   MetricsRecorder
	policy    retry.Policy
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewInvoker creates an Invoker. All collaborators are required.
func NewInvoker(
	validator ArgumentValidator,
	builder RequestBuilder,
	auth AuthStrategy,
	executor HTTPExecutor,
	metrics MetricsRecorder,
	policy retry.Policy,
	logger *slog.Logger,
) *Invoker {
	return &Invoker{
		validator: validator,
		builder:   builder,
		auth:      auth,
		executor:  executor,
		metrics:   metrics,
		policy:    policy,
		tracer:    otel.Tracer(tracerName),
		logger:    logger.With("component", "Invoker"),
	}
}

// Binder returns a Binder dispatching every handle against baseURL.
func (inv *Invoker) Binder(baseURL string) Binder {
	return func(h domain.Handle) InvokeFunc {
		return func(ctx context.Context, args map[string]any) domain.InvocationResult {
			return inv.Invoke(ctx, baseURL, h, args)
		}
	}
}

// Invoke executes one call of h. It never panics or returns an error: every
// failure is classified into the result and recorded as a metric sample.
func (inv *Invoker) Invoke(ctx context.Context, baseURL string, h domain.Handle, args map[string]any) domain.InvocationResult {
	start := time.Now()
	id := uuid.NewString()
	log := inv.logger.With(
		slog.String("handle", h.Name),
		slog.String("invocation_id", id),
		slog.String("method", h.Operation.Method),
	)

	ctx, span := inv.tracer.Start(ctx, "invoke "+h.Name, trace.WithAttributes(
		attribute.String("oapimcp.handle", h.Name),
		attribute.String("oapimcp.invocation_id", id),
		attribute.String("http.request.method", h.Operation.Method),
		attribute.String("url.template", h.Operation.Path),
	))
	defer span.End()

	res := inv.run(ctx, baseURL, h, args, log)
	res.InvocationID = id
	res.Handle = h.Name
	latency := time.Since(start)

	span.SetAttributes(
		attribute.Int("oapimcp.attempts", res.Attempts),
		attribute.Bool("oapimcp.cached", res.FromCache),
	)
	if res.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	}
	if res.Err != nil {
		res.State = domain.StateFailed
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(domain.KindOf(res.Err)))
		log.Warn("Invocation failed",
			slog.String("kind", string(domain.KindOf(res.Err))),
			slog.Int("status", res.StatusCode),
			slog.Int("attempts", res.Attempts),
			slog.Any("error", res.Err))
	} else {
		res.State = domain.StateCompleted
		log.Info("Invocation completed",
			slog.Int("status", res.StatusCode),
			slog.Int("attempts", res.Attempts),
			slog.Bool("cached", res.FromCache),
			slog.Duration("latency", latency))
	}

	sample := domain.MetricSample{
		Handle:    h.Name,
		Outcome:   res.Outcome(),
		Latency:   latency,
		Timestamp: start,
		Cached:    res.FromCache,
	}
	if res.Err != nil {
		sample.Detail = res.Detail()
	}
	inv.metrics.Record(sample)
	return res
}

func (inv *Invoker) run(ctx context.Context, baseURL string, h domain.Handle, args map[string]any, log *slog.Logger) domain.InvocationResult {
	res := domain.InvocationResult{State: domain.StateReceived}
	if args == nil {
		args = map[string]any{}
	}

	if err := inv.validator.Validate(h.InputSchema, args); err != nil {
		res.Err = err
		return res
	}
	res.State = domain.StateValidated
	log.Debug("Arguments validated")

	req, err := inv.builder.Build(baseURL, h.Operation, args)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}

	req, err = inv.auth.Attach(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.State = domain.StateAuthenticated
	log.Debug("Credentials attached", slog.String("auth", inv.auth.Name()))

	out := inv.executor.Execute(ctx, req, inv.policy)
	if out.StatusCode == http.StatusUnauthorized {
		if ci, ok := inv.auth.(CredentialInvalidator); ok {
			log.Info("Upstream rejected credentials")
			if err := ci.InvalidateCredentials(ctx, req); err != nil {
				log.Warn("Failed to invalidate credentials", slog.Any("error", err))
			}
		}
	}
	return out
}

// InvokeToolUseCase routes invocation requests to the live registry.
type InvokeToolUseCase struct {
	store  RegistryStore
	logger *slog.Logger
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase.
func NewInvokeToolUseCase(store RegistryStore, logger *slog.Logger) *InvokeToolUseCase {
	return &InvokeToolUseCase{
		store:  store,
		logger: logger.With("usecase", "InvokeTool"),
	}
}

// Execute invokes the named handle with args.
func (uc *InvokeToolUseCase) Execute(ctx context.Context, name string, args map[string]any) (domain.InvocationResult, error) {
	reg := uc.store.Current()
	if reg == nil {
		return domain.InvocationResult{}, ErrNoRegistry
	}
	res, err := reg.Invoke(ctx, name, args)
	if err != nil {
		uc.logger.Warn("Invocation of unknown handle", slog.String("handle", name))
		return res, err
	}
	return res, nil
}

// ReadResource reads the resource handle registered under uri.
func (uc *InvokeToolUseCase) ReadResource(ctx context.Context, uri string) (domain.Handle, domain.InvocationResult, error) {
	reg := uc.store.Current()
	if reg == nil {
		return domain.Handle{}, domain.InvocationResult{}, ErrNoRegistry
	}
	h, ok := reg.HandleByURI(uri)
	if !ok {
		uc.logger.Warn("Read of unknown resource", slog.String("uri", uri))
		return domain.Handle{}, domain.InvocationResult{}, fmt.Errorf("%w: %s", ErrHandleNotFound, uri)
	}
	res, err := reg.Invoke(ctx, h.Name, nil)
	return h, res, err
}
