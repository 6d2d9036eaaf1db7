package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
)

// Standard errors returned by use cases and adapters.
var (
	ErrHandleNotFound = errors.New("handle not found")
	ErrNoRegistry     = errors.New("no registry has been built")
)

// --- Spec Source Related ---

// SpecLoader fetches, parses and validates an OpenAPI document.
// Failures are *domain.SpecError values.
type SpecLoader interface {
	Load(ctx context.Context, source domain.SpecSource) (domain.APISpec, error)
}

// --- Invocation Collaborators ---

// OutboundRequest is an upstream HTTP request before dispatch.
type OutboundRequest struct {
	Method string
	// URL carries scheme, host and expanded path. Query is kept separately.
	URL     *url.URL
	Query   url.Values
	Header  http.Header
	Cookies []*http.Cookie
	Body    []byte
	// KeyParams holds the header and cookie parameter values taken from the
	// arguments, keyed "header:<Name>" and "cookie:<name>". They select the
	// response and so are part of the response cache key. Auth material is
	// never recorded here.
	KeyParams url.Values
}

// Clone returns a deep copy so strategies can attach material without
// touching the caller's value.
func (r OutboundRequest) Clone() OutboundRequest {
	out := r
	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}
	out.Query = url.Values{}
	for k, vs := range r.Query {
		out.Query[k] = append([]string(nil), vs...)
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Cookies = make([]*http.Cookie, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		cc := *c
		out.Cookies = append(out.Cookies, &cc)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.KeyParams != nil {
		out.KeyParams = url.Values{}
		for k, vs := range r.KeyParams {
			out.KeyParams[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// RequestBuilder turns validated arguments into an OutboundRequest.
type RequestBuilder interface {
	Build(baseURL string, op domain.OperationSpec, args map[string]any) (OutboundRequest, error)
}

// ArgumentValidator checks invocation arguments against a handle's input schema.
// Failures are domain.ValidationErrors.
type ArgumentValidator interface {
	Validate(schema domain.JSONSchemaProps, args map[string]any) error
}

// AuthStrategy attaches credentials to outbound requests.
type AuthStrategy interface {
	Name() string
	// Attach returns req with credential material added. Failures are *domain.AuthError,
	// or a Timeout *domain.TransportError when ctx ends first.
	Attach(ctx context.Context, req OutboundRequest) (OutboundRequest, error)
}

// CredentialInvalidator is implemented by strategies holding cached credentials
// that the upstream may reject, such as OAuth2 access tokens. rejected is the
// request the upstream refused; only the credentials it carried are dropped, so
// a token refreshed in the meantime survives.
type CredentialInvalidator interface {
	InvalidateCredentials(ctx context.Context, rejected OutboundRequest) error
}

// CacheProvider is a byte store with per-entry TTL.
// A provider must never return an entry past its expiry.
type CacheProvider interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// HTTPExecutor dispatches a request under a retry policy. It never returns
// an error: every outcome is carried by the InvocationResult.
type HTTPExecutor interface {
	Execute(ctx context.Context, req OutboundRequest, policy retry.Policy) domain.InvocationResult
}

// MetricsRecorder receives one sample per finished invocation.
type MetricsRecorder interface {
	Record(sample domain.MetricSample)
	Snapshot() domain.MetricsSnapshot
}

// --- Registry Storage ---

// RegistryStore holds the live registry. Swap replaces it atomically and
// returns the previous one, which may be nil.
type RegistryStore interface {
	Current() *Registry
	Swap(next *Registry) *Registry
}

// --- MCP Server Abstraction ---

// MCPServerAdapter publishes handles to an MCP host. Publish is called after
// every successful build with the new handle set and the one it replaces.
type MCPServerAdapter interface {
	Publish(ctx context.Context, current, previous []domain.Handle) error
}
