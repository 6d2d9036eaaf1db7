package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/i2y/oapimcp/internal/adapter/outbound/cache"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
	"github.com/i2y/oapimcp/internal/usecase"
)

const (
	// ExpiryMargin is subtracted from the reported token lifetime.
	ExpiryMargin = 60 * time.Second
	// defaultTokenLifetime applies when neither expires_in nor a JWT exp claim is present.
	defaultTokenLifetime  = time.Hour
	maxTokenResponseBytes = 1 << 20
)

// OAuth2 implements the client-credentials grant with a shared token cache.
// At most one token request per credential key is in flight at a time.
type OAuth2 struct {
	cfg    OAuth2Config
	key    string
	client *http.Client
	tokens usecase.CacheProvider
	policy retry.Policy
	group  singleflight.Group
	logger *slog.Logger
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func newOAuth2(cfg OAuth2Config, client *http.Client, tokens usecase.CacheProvider, policy retry.Policy, logger *slog.Logger) *OAuth2 {
	// Token requests are POSTs; they are safe to repeat.
	policy.AllowNonIdempotent = true
	return &OAuth2{
		cfg:    cfg,
		key:    cache.TokenKey(cfg.ClientID, cfg.Scopes),
		client: client,
		tokens: tokens,
		policy: policy,
		logger: logger.With("strategy", TypeOAuth2),
	}
}

func (o *OAuth2) Name() string { return TypeOAuth2 }

func (o *OAuth2) Attach(ctx context.Context, req usecase.OutboundRequest) (usecase.OutboundRequest, error) {
	token, err := o.ensureToken(ctx)
	if err != nil {
		return usecase.OutboundRequest{}, err
	}
	out := req.Clone()
	out.Header.Set("Authorization", "Bearer "+token)
	return out, nil
}

// InvalidateCredentials drops the cached token if it is the one rejected
// carried, so the next call refreshes it. A token already replaced by a newer
// one is left alone, and a refresh in flight is never forgotten.
func (o *OAuth2) InvalidateCredentials(ctx context.Context, rejected usecase.OutboundRequest) error {
	token, ok := bearerToken(rejected.Header)
	if !ok {
		return nil
	}
	current, ok := o.cached(ctx)
	if !ok || current != token {
		o.logger.Debug("Rejected token is no longer cached", slog.String("client_id", o.cfg.ClientID))
		return nil
	}
	if err := o.tokens.Invalidate(ctx, o.key); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	o.logger.Info("Invalidated cached access token", slog.String("client_id", o.cfg.ClientID))
	return nil
}

func bearerToken(h http.Header) (string, bool) {
	scheme, token, ok := strings.Cut(h.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func (o *OAuth2) ensureToken(ctx context.Context) (string, error) {
	if token, ok := o.cached(ctx); ok {
		return token, nil
	}

	ch := o.group.DoChan(o.key, func() (any, error) {
		// Another flight may have filled the cache while this caller waited.
		if token, ok := o.cached(ctx); ok {
			return token, nil
		}
		// The flight is shared, so one caller's cancellation must not fail the others.
		return o.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &domain.TransportError{Kind: domain.KindTimeout, Err: fmt.Errorf("waiting for access token: %w", ctx.Err())}
	}
}

func (o *OAuth2) cached(ctx context.Context) (string, bool) {
	v, ok, err := o.tokens.Get(ctx, o.key)
	if err != nil {
		o.logger.Warn("Token cache lookup failed", slog.Any("error", err))
		return "", false
	}
	if !ok || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

func (o *OAuth2) refresh(ctx context.Context) (string, error) {
	var (
		token    string
		lifetime time.Duration
	)
	attempts, err := retry.Do(ctx, o.policy, func(ctx context.Context, attempt int) (retry.Verdict, error) {
		t, l, err := o.requestToken(ctx)
		if err != nil {
			var authErr *domain.AuthError
			retryable := errors.As(err, &authErr) && authErr.Kind == domain.KindTokenEndpointUnreachable
			o.logger.Warn("Token request failed",
				slog.Int("attempt", attempt),
				slog.Bool("retryable", retryable),
				slog.Any("error", err))
			return retry.Verdict{Retry: retryable}, err
		}
		token, lifetime = t, l
		return retry.Verdict{}, nil
	})
	if err != nil {
		var authErr *domain.AuthError
		if !errors.As(err, &authErr) {
			err = &domain.AuthError{Kind: domain.KindTokenEndpointUnreachable, Err: err}
		}
		return "", err
	}

	ttl := lifetime - ExpiryMargin
	if err := o.tokens.Set(ctx, o.key, []byte(token), ttl); err != nil {
		o.logger.Warn("Token cache store failed", slog.Any("error", err))
	}
	o.logger.Info("Obtained access token",
		slog.String("client_id", o.cfg.ClientID),
		slog.Duration("lifetime", lifetime),
		slog.Int("attempts", attempts))
	return token, nil
}

func (o *OAuth2) requestToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(o.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(o.cfg.Scopes, " "))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &domain.AuthError{Kind: domain.KindAuthMisconfigured, Err: err}
	}
	req.SetBasicAuth(url.QueryEscape(o.cfg.ClientID), url.QueryEscape(o.cfg.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", 0, &domain.AuthError{Kind: domain.KindTokenEndpointUnreachable, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", 0, &domain.AuthError{Kind: domain.KindTokenEndpointUnreachable, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", 0, &domain.AuthError{
			Kind:   domain.KindTokenEndpointUnreachable,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("token endpoint error: %s", snippet(body)),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", 0, &domain.AuthError{
			Kind:   domain.KindUnauthorized,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("token request rejected: %s", snippet(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, &domain.AuthError{Kind: domain.KindUnauthorized, Status: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", 0, &domain.AuthError{Kind: domain.KindUnauthorized, Status: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}
	return tr.AccessToken, tokenLifetime(tr, time.Now()), nil
}

// tokenLifetime prefers expires_in, then the JWT exp claim, then a one hour default.
func tokenLifetime(tr tokenResponse, now time.Time) time.Duration {
	if secs, ok := parseExpiresIn(tr.ExpiresIn); ok {
		return time.Duration(secs) * time.Second
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, &claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Sub(now)
		}
	}
	return defaultTokenLifetime
}

// parseExpiresIn accepts both numeric and string encodings.
func parseExpiresIn(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil && v > 0 {
			return v, true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := json.Number(s).Int64(); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
