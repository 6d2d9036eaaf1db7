package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/adapter/outbound/auth"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
	"github.com/i2y/oapimcp/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func baseRequest() usecase.OutboundRequest {
	u, _ := url.Parse("https://api.example.com/pets")
	return usecase.OutboundRequest{
		Method:  http.MethodGet,
		URL:     u,
		Query:   url.Values{"limit": {"10"}},
		Header:  http.Header{"Accept": {"application/json"}},
		Cookies: []*http.Cookie{{Name: "session", Value: "s1"}},
	}
}

func TestResolve_Misconfigured(t *testing.T) {
	r := auth.NewResolver(nil, nil, fastPolicy(), testLogger())

	tests := []struct {
		name string
		cfg  auth.Config
	}{
		{name: "unknown type", cfg: auth.Config{Type: "kerberos"}},
		{name: "basic without username", cfg: auth.Config{Type: "basic", Password: "p"}},
		{name: "bearer without token", cfg: auth.Config{Type: "bearer"}},
		{name: "apikey without key", cfg: auth.Config{Type: "apikey", KeyName: "k"}},
		{name: "apikey bad location", cfg: auth.Config{Type: "apikey", APIKey: "k", KeyLocation: "body"}},
		{name: "apikey query without name", cfg: auth.Config{Type: "apikey", APIKey: "k", KeyLocation: "query"}},
		{name: "oauth2 missing secret", cfg: auth.Config{Type: "oauth2", OAuth2: auth.OAuth2Config{TokenURL: "https://idp/token", ClientID: "c"}}},
		{name: "oauth2 relative token url", cfg: auth.Config{Type: "oauth2", OAuth2: auth.OAuth2Config{TokenURL: "/token", ClientID: "c", ClientSecret: "s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, s)
			var authErr *domain.AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, domain.KindAuthMisconfigured, authErr.Kind)
		})
	}
}

func TestResolve_StaticStrategies(t *testing.T) {
	r := auth.NewResolver(nil, nil, fastPolicy(), testLogger())

	tests := []struct {
		name     string
		cfg      auth.Config
		wantName string
		check    func(t *testing.T, out usecase.OutboundRequest)
	}{
		{
			name:     "none",
			cfg:      auth.Config{},
			wantName: "none",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				assert.Empty(t, out.Header.Get("Authorization"))
			},
		},
		{
			name:     "basic",
			cfg:      auth.Config{Type: "basic", Username: "alice", Password: "secret"},
			wantName: "basic",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				assert.Equal(t, "Basic YWxpY2U6c2VjcmV0", out.Header.Get("Authorization"))
			},
		},
		{
			name:     "bearer",
			cfg:      auth.Config{Type: "Bearer", Token: "tok"},
			wantName: "bearer",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				assert.Equal(t, "Bearer tok", out.Header.Get("Authorization"))
			},
		},
		{
			name:     "apikey default header",
			cfg:      auth.Config{Type: "apikey", APIKey: "k1"},
			wantName: "apikey",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				assert.Equal(t, "k1", out.Header.Get("X-API-Key"))
			},
		},
		{
			name:     "apikey query",
			cfg:      auth.Config{Type: "apikey", APIKey: "k2", KeyName: "api_key", KeyLocation: "query"},
			wantName: "apikey",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				assert.Equal(t, "k2", out.Query.Get("api_key"))
				assert.Equal(t, "10", out.Query.Get("limit"))
			},
		},
		{
			name:     "apikey cookie",
			cfg:      auth.Config{Type: "apikey", APIKey: "k3", KeyName: "token", KeyLocation: "cookie"},
			wantName: "apikey",
			check: func(t *testing.T, out usecase.OutboundRequest) {
				require.Len(t, out.Cookies, 2)
				assert.Equal(t, "session", out.Cookies[0].Name)
				assert.Equal(t, "token", out.Cookies[1].Name)
				assert.Equal(t, "k3", out.Cookies[1].Value)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, s.Name())

			in := baseRequest()
			out, err := s.Attach(context.Background(), in)
			require.NoError(t, err)
			tt.check(t, out)

			// The caller's request is never mutated.
			assert.Empty(t, in.Header.Get("Authorization"))
			assert.Len(t, in.Query, 1)
			assert.Len(t, in.Cookies, 1)
		})
	}
}
