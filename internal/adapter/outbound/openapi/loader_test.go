package openapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/adapter/outbound/openapi"
	"github.com/i2y/oapimcp/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoader(opts openapi.LoaderOptions) *openapi.SpecLoader {
	return openapi.NewSpecLoader(http.DefaultClient, opts, testLogger())
}

func operationIDs(spec domain.APISpec) []string {
	var ids []string
	for _, op := range spec.Operations {
		ids = append(ids, op.OperationID)
	}
	return ids
}

func TestSpecLoader_LocalYAML(t *testing.T) {
	spec, err := newLoader(openapi.LoaderOptions{}).Load(context.Background(), domain.SpecSource{Location: "testdata/petstore.yaml"})
	require.NoError(t, err)

	assert.Equal(t, domain.SpecFormatYAML, spec.Format)
	assert.Equal(t, "3.0.3", spec.OpenAPIVersion)
	assert.Equal(t, "Swagger Petstore", spec.Title)
	assert.Equal(t, "https://petstore.example.com/v3", spec.ServerURL)
	assert.Equal(t, []string{"getInventory", "getPetById", "deletePet", "addPet", "get_pet_findByStatus"}, operationIDs(spec))

	byID := map[string]domain.OperationSpec{}
	for _, op := range spec.Operations {
		byID[op.OperationID] = op
	}

	inv := byID["getInventory"]
	assert.Equal(t, "GET", inv.Method)
	assert.Equal(t, "application/json", inv.ResponseContentType)
	assert.Equal(t, domain.HandleResource, domain.Classify(inv))

	get := byID["getPetById"]
	require.Len(t, get.Parameters, 1)
	assert.Equal(t, domain.ParamInPath, get.Parameters[0].In)
	assert.True(t, get.Parameters[0].Required)
	assert.Equal(t, "integer", get.Parameters[0].Schema.Type)
	assert.Equal(t, "object", get.Responses["200"].Type)
	assert.Equal(t, domain.HandleTool, domain.Classify(get))

	del := byID["deletePet"]
	require.Len(t, del.Parameters, 2, "path-level parameters are inherited")
	assert.Equal(t, domain.ParamInHeader, del.Parameters[1].In)

	add := byID["addPet"]
	require.NotNil(t, add.RequestBody)
	assert.True(t, add.RequestBody.Required)
	assert.Equal(t, []string{"id", "name", "tags"}, add.RequestBody.Fields)
	assert.Equal(t, "string", add.RequestBody.Schema.Properties["tags"].Items.Type)
	assert.Equal(t, domain.HandleTool, domain.Classify(add))

	find := byID["get_pet_findByStatus"]
	assert.True(t, find.SynthesizedID)
	assert.Len(t, find.Parameters[0].Schema.Enum, 3)
	assert.Equal(t, domain.HandleResource, domain.Classify(find))
}

func TestSpecLoader_DeterministicAcrossRuns(t *testing.T) {
	l := newLoader(openapi.LoaderOptions{})
	first, err := l.Load(context.Background(), domain.SpecSource{Location: "testdata/petstore.yaml"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := l.Load(context.Background(), domain.SpecSource{Location: "testdata/petstore.yaml"})
		require.NoError(t, err)
		assert.Equal(t, operationIDs(first), operationIDs(again))
	}
}

func TestSpecLoader_InlineJSONKeepsDeclarationOrder(t *testing.T) {
	data, err := os.ReadFile("testdata/status.json")
	require.NoError(t, err)

	spec, err := newLoader(openapi.LoaderOptions{}).Load(context.Background(), domain.SpecSource{Data: data})
	require.NoError(t, err)
	assert.Equal(t, domain.SpecFormatJSON, spec.Format)
	require.Len(t, spec.Operations, 3)
	assert.Equal(t, "/v2/status", spec.Operations[0].Path)
	assert.Equal(t, "/v1/status", spec.Operations[1].Path)
	assert.Empty(t, spec.ServerURL, "relative server without an http location cannot be resolved")

	echo := spec.Operations[2]
	require.NotNil(t, echo.RequestBody)
	assert.Equal(t, "text/plain", echo.RequestBody.ContentType)
	assert.Empty(t, echo.RequestBody.Fields)
}

func TestSpecLoader_URLResolvesRelativeServer(t *testing.T) {
	data, err := os.ReadFile("testdata/status.json")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/specs/openapi.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	spec, err := newLoader(openapi.LoaderOptions{}).Load(context.Background(), domain.SpecSource{Location: srv.URL + "/specs/openapi.json"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api", spec.ServerURL)
}

func TestSpecLoader_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		src  domain.SpecSource
		opts openapi.LoaderOptions
		want domain.ErrorKind
	}{
		{
			name: "missing file",
			src:  domain.SpecSource{Location: "testdata/does-not-exist.yaml"},
			want: domain.KindSpecUnreachable,
		},
		{
			name: "http 404",
			src:  domain.SpecSource{Location: srv.URL + "/openapi.json"},
			want: domain.KindSpecUnreachable,
		},
		{
			name: "swagger 2",
			src:  domain.SpecSource{Data: []byte("swagger: '2.0'\ninfo: {title: x, version: '1'}\npaths: {}\n")},
			want: domain.KindSpecUnsupportedVersion,
		},
		{
			name: "openapi 4",
			src:  domain.SpecSource{Data: []byte(`{"openapi": "4.0.0", "info": {"title": "x", "version": "1"}, "paths": {}}`)},
			want: domain.KindSpecUnsupportedVersion,
		},
		{
			name: "not a document",
			src:  domain.SpecSource{Data: []byte("- just\n- a list\n")},
			want: domain.KindSpecMalformed,
		},
		{
			name: "broken yaml",
			src:  domain.SpecSource{Data: []byte("openapi: 3.0.0\npaths: [\n")},
			want: domain.KindSpecMalformed,
		},
		{
			name: "path without operations",
			src:  domain.SpecSource{Data: []byte("openapi: 3.0.0\ninfo: {title: x, version: '1'}\npaths:\n  /a:\n    summary: nothing here\n")},
			want: domain.KindSpecMalformed,
		},
		{
			name: "no operations at all",
			src:  domain.SpecSource{Data: []byte("openapi: 3.0.0\ninfo: {title: x, version: '1'}\npaths: {}\n")},
			want: domain.KindSpecMalformed,
		},
		{
			name: "strict validation rejects invalid parameter location",
			src:  domain.SpecSource{Data: []byte("openapi: 3.0.0\ninfo: {title: x, version: '1'}\npaths:\n  /a:\n    get:\n      operationId: a\n      parameters:\n        - name: q\n          in: nowhere\n")},
			opts: openapi.LoaderOptions{Strict: true},
			want: domain.KindSpecMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := newLoader(tt.opts).Load(context.Background(), tt.src)
			require.Error(t, err)
			var specErr *domain.SpecError
			require.ErrorAs(t, err, &specErr)
			assert.Equal(t, tt.want, specErr.Kind)
			assert.Empty(t, spec.Operations)
		})
	}
}

type repoFetcherFunc func(ctx context.Context, location string) ([]byte, error)

func (f repoFetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

func TestSpecLoader_GitHubLocation(t *testing.T) {
	data, err := os.ReadFile("testdata/petstore.yaml")
	require.NoError(t, err)

	var asked string
	loader := newLoader(openapi.LoaderOptions{}).WithGitHub(repoFetcherFunc(func(_ context.Context, location string) ([]byte, error) {
		asked = location
		return data, nil
	}))
	spec, err := loader.Load(context.Background(), domain.SpecSource{Location: "github://acme/specs/petstore.yaml@main"})
	require.NoError(t, err)
	assert.Equal(t, "github://acme/specs/petstore.yaml@main", asked)
	assert.Equal(t, "Swagger Petstore", spec.Title)
	assert.Len(t, spec.Operations, 5)
}

func TestSpecLoader_GitHubLocationErrors(t *testing.T) {
	src := domain.SpecSource{Location: "github://acme/specs/petstore.yaml"}

	_, err := newLoader(openapi.LoaderOptions{}).Load(context.Background(), src)
	assert.Equal(t, domain.KindSpecUnreachable, domain.KindOf(err))

	failing := newLoader(openapi.LoaderOptions{}).WithGitHub(repoFetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, assert.AnError
	}))
	_, err = failing.Load(context.Background(), src)
	assert.Equal(t, domain.KindSpecUnreachable, domain.KindOf(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAutoDiscoverer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/api-docs" && r.Header.Get("X-Token") == "secret" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := openapi.NewAutoDiscoverer(srv.Client(), testLogger())
	ctx := context.Background()

	got := d.ResolveSchemaSource(ctx, srv.URL, map[string]string{"X-Token": "secret"})
	assert.Equal(t, srv.URL+"/v3/api-docs", got)

	assert.Equal(t, srv.URL, d.ResolveSchemaSource(ctx, srv.URL, nil), "falls back to source when nothing is found")
	assert.Equal(t, srv.URL+"/spec.yaml", d.ResolveSchemaSource(ctx, srv.URL+"/spec.yaml", nil))
}
