package domain

import (
	"net/http"
	"strings"
)

// ParamLocation is where an operation parameter travels on the wire.
type ParamLocation string

const (
	ParamInPath   ParamLocation = "path"
	ParamInQuery  ParamLocation = "query"
	ParamInHeader ParamLocation = "header"
	ParamInCookie ParamLocation = "cookie"
)

// Parameter is one declared operation parameter.
type Parameter struct {
	Name        string
	In          ParamLocation
	Required    bool
	Description string
	Schema      JSONSchemaProps
}

// RequestBody describes the preferred request body media type of an operation.
type RequestBody struct {
	Required    bool
	ContentType string
	Schema      JSONSchemaProps
	// Fields lists the top-level argument names merged from an object body.
	// Empty when the whole body is passed under BodyArgument.
	Fields []string
}

// BodyArgument is the argument name carrying a non-object request body.
const BodyArgument = "requestBody"

// OperationSpec is the normalized form of one OpenAPI operation.
// Values are built once by the SpecLoader and shared read-only afterwards.
type OperationSpec struct {
	OperationID string
	// SynthesizedID reports that OperationID was derived from method and path.
	SynthesizedID bool
	Method        string
	Path          string
	Summary       string
	Description   string
	Tags          []string
	Parameters    []Parameter
	RequestBody   *RequestBody
	// Responses maps status codes to the JSON schema of their preferred content, if any.
	Responses map[string]JSONSchemaProps
	// ResponseContentType is the media type of the preferred success response.
	ResponseContentType string
}

// PathPlaceholders returns the template variable names of Path in order.
func (op OperationSpec) PathPlaceholders() []string {
	var names []string
	rest := op.Path
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return names
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return names
		}
		names = append(names, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
}

// HasRequiredInputs reports whether any parameter or the request body is required.
func (op OperationSpec) HasRequiredInputs() bool {
	for _, p := range op.Parameters {
		if p.Required {
			return true
		}
	}
	return op.RequestBody != nil && op.RequestBody.Required
}

// ParamsIn returns the parameters declared at the given location.
func (op OperationSpec) ParamsIn(loc ParamLocation) []Parameter {
	var out []Parameter
	for _, p := range op.Parameters {
		if p.In == loc {
			out = append(out, p)
		}
	}
	return out
}

// IsIdempotentMethod reports whether retrying method cannot duplicate side effects.
func IsIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// IsCacheableMethod reports whether responses to method may be served from the response cache.
func IsCacheableMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

// SynthesizeOperationID derives a stable identifier from method and path,
// e.g. GET /pet/{petId}/photos -> get_pet_petId_photos.
func SynthesizeOperationID(method, path string) string {
	parts := []string{strings.ToLower(method)}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		seg = strings.Trim(seg, "{}")
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "_")
}
