package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/i2y/oapimcp/internal/domain"
)

// InvokeFunc is the invocation closure bound to one handle at build time.
type InvokeFunc func(ctx context.Context, args map[string]any) domain.InvocationResult

// Binder creates the invocation closure for a handle.
type Binder func(h domain.Handle) InvokeFunc

type registryEntry struct {
	handle domain.Handle
	invoke InvokeFunc
}

// Registry is an immutable set of handles built from one APISpec.
// It is safe for concurrent use without locking.
type Registry struct {
	api     string
	builtAt time.Time
	handles []domain.Handle
	byName  map[string]registryEntry
	byURI   map[string]string
}

// BuildOptions control handle naming.
type BuildOptions struct {
	APIName   string
	NameStyle domain.NameStyle
}

// BuildRegistry classifies and names every operation of spec in declaration
// order and binds an invocation closure to each resulting handle.
func BuildRegistry(spec domain.APISpec, opts BuildOptions, bind Binder) *Registry {
	api := domain.SanitizeName(opts.APIName, domain.NameStyleVerbatim)
	if opts.APIName == "" {
		api = "api"
	}
	namer := domain.NewHandleNamer(opts.NameStyle)

	r := &Registry{
		api:     api,
		builtAt: time.Now(),
		handles: make([]domain.Handle, 0, len(spec.Operations)),
		byName:  make(map[string]registryEntry, len(spec.Operations)),
		byURI:   make(map[string]string),
	}
	for _, op := range spec.Operations {
		h := domain.Handle{
			Name:        namer.Assign(op.OperationID),
			Kind:        domain.Classify(op),
			Description: domain.Describe(op),
			InputSchema: domain.BuildInputSchema(op),
			Operation:   op,
		}
		if out, ok := successSchema(op); ok {
			h.OutputSchema = &out
		}
		if h.Kind == domain.HandleResource {
			h.URI = fmt.Sprintf("resource://%s/%s", api, h.Name)
			h.MIMEType = op.ResponseContentType
			if h.MIMEType == "" {
				h.MIMEType = "application/json"
			}
			r.byURI[h.URI] = h.Name
		}
		r.handles = append(r.handles, h)
		r.byName[h.Name] = registryEntry{handle: h, invoke: bind(h)}
	}
	return r
}

// successSchema picks the schema of the lowest declared 2xx response.
func successSchema(op domain.OperationSpec) (domain.JSONSchemaProps, bool) {
	for _, code := range []string{"200", "201", "202", "203", "206", "2XX", "default"} {
		if s, ok := op.Responses[code]; ok {
			return s, true
		}
	}
	return domain.JSONSchemaProps{}, false
}

// API returns the sanitized API name used in resource URIs.
func (r *Registry) API() string { return r.api }

// BuiltAt returns when the registry was built.
func (r *Registry) BuiltAt() time.Time { return r.builtAt }

// Len returns the number of handles.
func (r *Registry) Len() int { return len(r.handles) }

// Handles returns the handles in declaration order.
func (r *Registry) Handles() []domain.Handle {
	out := make([]domain.Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// Handle looks up a handle by name.
func (r *Registry) Handle(name string) (domain.Handle, bool) {
	e, ok := r.byName[name]
	return e.handle, ok
}

// HandleByURI looks up a resource handle by its URI.
func (r *Registry) HandleByURI(uri string) (domain.Handle, bool) {
	name, ok := r.byURI[uri]
	if !ok {
		return domain.Handle{}, false
	}
	return r.Handle(name)
}

// Invoke runs the named handle. Unknown names fail with ErrHandleNotFound;
// every other outcome is carried by the returned result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (domain.InvocationResult, error) {
	e, ok := r.byName[name]
	if !ok {
		return domain.InvocationResult{}, fmt.Errorf("%w: %s", ErrHandleNotFound, name)
	}
	return e.invoke(ctx, args), nil
}
