// Package auth turns an auth configuration into a usecase.AuthStrategy.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/i2y/oapimcp/internal/adapter/outbound/cache"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
	"github.com/i2y/oapimcp/internal/usecase"
)

// Strategy names accepted in Config.Type.
const (
	TypeNone   = "none"
	TypeBasic  = "basic"
	TypeBearer = "bearer"
	TypeAPIKey = "apikey"
	TypeOAuth2 = "oauth2"
)

// API key locations.
const (
	InHeader = "header"
	InQuery  = "query"
	InCookie = "cookie"
)

// Config is the resolved auth section of the process configuration.
type Config struct {
	Type     string
	Username string
	Password string
	Token    string

	APIKey      string
	KeyName     string
	KeyLocation string

	OAuth2 OAuth2Config
}

// OAuth2Config holds client-credentials grant settings.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Resolver builds strategies. One Resolver is shared by every registry build
// so that OAuth2 tokens survive a reload.
type Resolver struct {
	client *http.Client
	tokens usecase.CacheProvider
	policy retry.Policy
	logger *slog.Logger
}

// NewResolver creates a Resolver. tokens may be nil, in which case a small
// in-memory cache holds OAuth2 tokens.
func NewResolver(client *http.Client, tokens usecase.CacheProvider, policy retry.Policy, logger *slog.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if tokens == nil {
		tokens = cache.NewMemory(64)
	}
	return &Resolver{
		client: client,
		tokens: cache.WithNamespace(tokens, cache.NamespaceToken),
		policy: policy,
		logger: logger.With("component", "auth"),
	}
}

// Resolve returns the strategy named by cfg.Type. Incomplete settings fail
// with a Misconfigured *domain.AuthError.
func (r *Resolver) Resolve(cfg Config) (usecase.AuthStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeNone:
		return None{}, nil
	case TypeBasic:
		if cfg.Username == "" {
			return nil, misconfigured("basic auth requires a username")
		}
		return &Basic{username: cfg.Username, password: cfg.Password}, nil
	case TypeBearer:
		if cfg.Token == "" {
			return nil, misconfigured("bearer auth requires a token")
		}
		return &Bearer{token: cfg.Token}, nil
	case TypeAPIKey, "api_key":
		return newAPIKey(cfg)
	case TypeOAuth2:
		if err := checkOAuth2(cfg.OAuth2); err != nil {
			return nil, err
		}
		r.logger.Info("Resolved OAuth2 client credentials strategy",
			slog.String("token_url", cfg.OAuth2.TokenURL),
			slog.String("client_id", cfg.OAuth2.ClientID),
			slog.Int("scopes", len(cfg.OAuth2.Scopes)))
		return newOAuth2(cfg.OAuth2, r.client, r.tokens, r.policy, r.logger), nil
	default:
		return nil, misconfigured(fmt.Sprintf("unknown auth type %q", cfg.Type))
	}
}

func checkOAuth2(cfg OAuth2Config) error {
	if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return misconfigured("oauth2 requires token URL, client id and client secret")
	}
	u, err := url.Parse(cfg.TokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return misconfigured(fmt.Sprintf("oauth2 token URL %q is not an absolute http(s) URL", cfg.TokenURL))
	}
	return nil
}

func misconfigured(msg string) error {
	return &domain.AuthError{Kind: domain.KindAuthMisconfigured, Err: fmt.Errorf("%s", msg)}
}
