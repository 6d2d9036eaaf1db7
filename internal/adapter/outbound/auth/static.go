package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/i2y/oapimcp/internal/usecase"
)

// None sends requests unchanged.
type None struct{}

func (None) Name() string { return TypeNone }

func (None) Attach(_ context.Context, req usecase.OutboundRequest) (usecase.OutboundRequest, error) {
	return req.Clone(), nil
}

// Basic sets an RFC 7617 Authorization header.
type Basic struct {
	username string
	password string
}

func (b *Basic) Name() string { return TypeBasic }

func (b *Basic) Attach(_ context.Context, req usecase.OutboundRequest) (usecase.OutboundRequest, error) {
	out := req.Clone()
	creds := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	out.Header.Set("Authorization", "Basic "+creds)
	return out, nil
}

// Bearer sets a static bearer token.
type Bearer struct {
	token string
}

func (b *Bearer) Name() string { return TypeBearer }

func (b *Bearer) Attach(_ context.Context, req usecase.OutboundRequest) (usecase.OutboundRequest, error) {
	out := req.Clone()
	out.Header.Set("Authorization", "Bearer "+b.token)
	return out, nil
}

// APIKey places a key in a header, query parameter or cookie.
type APIKey struct {
	key      string
	name     string
	location string
}

func newAPIKey(cfg Config) (*APIKey, error) {
	if cfg.APIKey == "" {
		return nil, misconfigured("api key auth requires a key")
	}
	location := strings.ToLower(strings.TrimSpace(cfg.KeyLocation))
	if location == "" {
		location = InHeader
	}
	switch location {
	case InHeader, InQuery, InCookie:
	default:
		return nil, misconfigured(fmt.Sprintf("api key location %q must be header, query or cookie", cfg.KeyLocation))
	}
	name := cfg.KeyName
	if name == "" {
		if location != InHeader {
			return nil, misconfigured("api key in " + location + " requires a key name")
		}
		name = "X-API-Key"
	}
	return &APIKey{key: cfg.APIKey, name: name, location: location}, nil
}

func (a *APIKey) Name() string { return TypeAPIKey }

func (a *APIKey) Attach(_ context.Context, req usecase.OutboundRequest) (usecase.OutboundRequest, error) {
	out := req.Clone()
	switch a.location {
	case InQuery:
		out.Query.Set(a.name, a.key)
	case InCookie:
		kept := out.Cookies[:0]
		for _, c := range out.Cookies {
			if c.Name != a.name {
				kept = append(kept, c)
			}
		}
		out.Cookies = append(kept, &http.Cookie{Name: a.name, Value: a.key})
	default:
		out.Header.Set(a.name, a.key)
	}
	return out, nil
}
