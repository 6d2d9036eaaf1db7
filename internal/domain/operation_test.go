package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i2y/oapimcp/internal/domain"
)

func TestOperationSpec_PathPlaceholders(t *testing.T) {
	op := domain.OperationSpec{Path: "/users/{userId}/posts/{post-id}"}
	assert.Equal(t, []string{"userId", "post-id"}, op.PathPlaceholders())
	assert.Empty(t, domain.OperationSpec{Path: "/store/inventory"}.PathPlaceholders())
}

func TestSynthesizeOperationID(t *testing.T) {
	assert.Equal(t, "get_pet_petId_photos", domain.SynthesizeOperationID("GET", "/pet/{petId}/photos"))
	assert.Equal(t, "post_pet", domain.SynthesizeOperationID("POST", "/pet/"))
	assert.Equal(t, "get", domain.SynthesizeOperationID("GET", "/"))
}

func TestIdempotentAndCacheableMethods(t *testing.T) {
	assert.True(t, domain.IsIdempotentMethod("get"))
	assert.True(t, domain.IsIdempotentMethod("PUT"))
	assert.False(t, domain.IsIdempotentMethod("POST"))
	assert.False(t, domain.IsIdempotentMethod("PATCH"))
	assert.True(t, domain.IsCacheableMethod("HEAD"))
	assert.False(t, domain.IsCacheableMethod("PUT"))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want domain.OutcomeClass
		kind domain.ErrorKind
	}{
		{nil, domain.OutcomeSuccess, ""},
		{&domain.ValidationError{Kind: domain.KindMissingArgument, Field: "petId"}, domain.OutcomeValidationError, domain.KindMissingArgument},
		{domain.ValidationErrors{{Kind: domain.KindTypeMismatch, Field: "limit"}}, domain.OutcomeValidationError, domain.KindTypeMismatch},
		{fmt.Errorf("wrapped: %w", &domain.AuthError{Kind: domain.KindUnauthorized}), domain.OutcomeAuthError, domain.KindUnauthorized},
		{&domain.TransportError{Kind: domain.KindTimeout, Err: errors.New("deadline")}, domain.OutcomeTransportError, domain.KindTimeout},
		{&domain.UpstreamError{Status: 503}, domain.OutcomeUpstreamError, domain.KindUpstreamServer},
		{&domain.UpstreamError{Status: 404}, domain.OutcomeUpstreamError, domain.KindUpstreamClient},
		{errors.New("boom"), domain.OutcomeInternalError, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.OutcomeOf(tt.err), "%v", tt.err)
		assert.Equal(t, tt.kind, domain.KindOf(tt.err), "%v", tt.err)
	}
}

func TestInvocationResult_Detail(t *testing.T) {
	res := domain.InvocationResult{
		Handle:     "getPet",
		StatusCode: 503,
		Attempts:   3,
		Err:        &domain.UpstreamError{Status: 503, Body: "busy"},
	}
	assert.True(t, res.Failed())
	assert.Contains(t, res.Detail(), "upstream_5xx")
	assert.Contains(t, res.Detail(), "after 3 attempt(s)")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Find pet", domain.Describe(domain.OperationSpec{Summary: "Find pet"}))
	assert.Equal(t, "Find pet\n\nReturns one pet", domain.Describe(domain.OperationSpec{Summary: "Find pet", Description: "Returns one pet"}))
	assert.Equal(t, "Executes GET /x", domain.Describe(domain.OperationSpec{Method: "GET", Path: "/x"}))
}

func TestBuildInputSchema(t *testing.T) {
	op := domain.OperationSpec{
		Method: "POST",
		Path:   "/pets/{petId}/tags",
		Parameters: []domain.Parameter{
			{Name: "petId", In: domain.ParamInPath, Required: true, Schema: domain.JSONSchemaProps{Type: "integer"}},
			{Name: "dryRun", In: domain.ParamInQuery, Description: "validate only", Schema: domain.JSONSchemaProps{Type: "boolean"}},
		},
		RequestBody: &domain.RequestBody{
			Required:    true,
			ContentType: "application/json",
			Schema: domain.JSONSchemaProps{
				Type: "object",
				Properties: map[string]domain.JSONSchemaProps{
					"name":  {Type: "string"},
					"color": {Type: "string"},
				},
				Required: []string{"name"},
			},
			Fields: []string{"name", "color"},
		},
	}

	got := domain.BuildInputSchema(op)
	assert.Equal(t, "object", got.Type)
	assert.ElementsMatch(t, []string{"petId", "name"}, got.Required)
	assert.Equal(t, "validate only", got.Properties["dryRun"].Description)
	assert.Equal(t, "string", got.Properties["color"].Type)

	op.RequestBody.Fields = nil
	got = domain.BuildInputSchema(op)
	assert.Contains(t, got.Properties, domain.BodyArgument)
	assert.ElementsMatch(t, []string{"petId", domain.BodyArgument}, got.Required)
}
