package domain

import (
	"errors"
	"fmt"
	"time"
)

// InvocationState is a step of the single-invocation lifecycle:
// received -> validated -> authenticated -> cache_check -> dispatched -> completed|failed.
type InvocationState string

const (
	StateReceived      InvocationState = "received"
	StateValidated     InvocationState = "validated"
	StateAuthenticated InvocationState = "authenticated"
	StateCacheCheck    InvocationState = "cache_check"
	StateDispatched    InvocationState = "dispatched"
	StateCompleted     InvocationState = "completed"
	StateFailed        InvocationState = "failed"
)

// OutcomeClass is the metrics label for how an invocation ended.
type OutcomeClass string

const (
	OutcomeSuccess         OutcomeClass = "success"
	OutcomeValidationError OutcomeClass = "validation_error"
	OutcomeAuthError       OutcomeClass = "auth_error"
	OutcomeTransportError  OutcomeClass = "transport_error"
	OutcomeUpstreamError   OutcomeClass = "upstream_error"
	OutcomeInternalError   OutcomeClass = "internal_error"
)

// OutcomeOf maps an invocation error to its outcome class.
func OutcomeOf(err error) OutcomeClass {
	var (
		validErr     *ValidationError
		authErr      *AuthError
		transportErr *TransportError
		upstreamErr  *UpstreamError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &validErr):
		return OutcomeValidationError
	case errors.As(err, &authErr):
		return OutcomeAuthError
	case errors.As(err, &transportErr):
		return OutcomeTransportError
	case errors.As(err, &upstreamErr):
		return OutcomeUpstreamError
	}
	return OutcomeInternalError
}

// InvocationResult is the outcome of one call. It is never retained by the engine
// except as an encoded response-cache entry.
type InvocationResult struct {
	InvocationID string
	Handle       string
	State        InvocationState
	StatusCode   int
	ContentType  string
	Body         []byte
	// Decoded is the JSON-decoded body, or the body as a string when it is not JSON.
	Decoded   any
	Attempts  int
	FromCache bool
	Err       error
}

// Failed reports whether the invocation ended in the failed state.
func (r InvocationResult) Failed() bool { return r.Err != nil }

// Outcome returns the metrics class of the result.
func (r InvocationResult) Outcome() OutcomeClass { return OutcomeOf(r.Err) }

// Detail renders a one-line summary suitable for logs and error payloads.
func (r InvocationResult) Detail() string {
	if r.Err == nil {
		return fmt.Sprintf("%s completed: HTTP %d after %d attempt(s), cached=%t", r.Handle, r.StatusCode, r.Attempts, r.FromCache)
	}
	if r.StatusCode != 0 {
		return fmt.Sprintf("%s failed [%s] HTTP %d after %d attempt(s): %v", r.Handle, KindOf(r.Err), r.StatusCode, r.Attempts, r.Err)
	}
	return fmt.Sprintf("%s failed [%s] after %d attempt(s): %v", r.Handle, KindOf(r.Err), r.Attempts, r.Err)
}

// MetricSample is one recorded invocation outcome.
type MetricSample struct {
	Handle    string        `json:"handle"`
	Outcome   OutcomeClass  `json:"outcome"`
	Latency   time.Duration `json:"latency_ns"`
	Timestamp time.Time     `json:"timestamp"`
	// Cached marks a result served from the response cache.
	Cached bool   `json:"cached,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// HandleStats aggregates samples of one handle.
type HandleStats struct {
	Calls        int64                  `json:"calls"`
	Successes    int64                  `json:"successes"`
	Failures     map[OutcomeClass]int64 `json:"failures,omitempty"`
	CacheHits    int64                  `json:"cache_hits"`
	TotalLatency time.Duration          `json:"total_latency_ns"`
	MaxLatency   time.Duration          `json:"max_latency_ns"`
}

// AvgLatency returns the mean latency, or zero without samples.
func (s HandleStats) AvgLatency() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Calls)
}

// MetricsSnapshot is an aggregated read of all recorded samples.
type MetricsSnapshot struct {
	TakenAt time.Time              `json:"taken_at"`
	Handles map[string]HandleStats `json:"handles"`
	// RecentFailures holds the newest failed samples, oldest first.
	RecentFailures []MetricSample `json:"recent_failures,omitempty"`
}
