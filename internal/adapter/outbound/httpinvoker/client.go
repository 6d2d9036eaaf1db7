// Package httpinvoker builds upstream HTTP requests from handle arguments and
// dispatches them with pooling, rate limiting, retries and response caching.
package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/i2y/oapimcp/internal/adapter/outbound/cache"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
	"github.com/i2y/oapimcp/internal/usecase"
)

// Options configure the Client and its transport.
type Options struct {
	// MaxConnsPerHost bounds the pool per upstream host. Callers block when it is exhausted.
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	// RequestTimeout applies when the caller's context has no deadline. It
	// covers every attempt and backoff wait.
	RequestTimeout time.Duration
	// RateLimit is the sustained request rate per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// CacheTTL is the lifetime of cached GET/HEAD responses. Zero disables response caching.
	CacheTTL         time.Duration
	MaxResponseBytes int64
	UserAgent        string
}

// DefaultOptions returns pool and timeout defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnsPerHost:     16,
		MaxIdleConnsPerHost: 8,
		RequestTimeout:      30 * time.Second,
		CacheTTL:            time.Minute,
		MaxResponseBytes:    10 << 20,
		UserAgent:           "oapimcp",
	}
}

// NewHTTPClient returns an http.Client over a bounded connection pool.
func NewHTTPClient(opts Options) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxConnsPerHost = opts.MaxConnsPerHost
	t.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	t.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: t}
}

// Client implements usecase.HTTPExecutor.
type Client struct {
	http      *http.Client
	responses usecase.CacheProvider
	limiter   *rate.Limiter
	opts      Options
	logger    *slog.Logger
}

// NewClient creates a Client. httpClient may be nil to use NewHTTPClient(opts);
// responses may be nil to disable response caching.
func NewClient(httpClient *http.Client, responses usecase.CacheProvider, opts Options, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(opts)
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultOptions().MaxResponseBytes
	}
	c := &Client{
		http:   httpClient,
		opts:   opts,
		logger: logger.With("component", "http_invoker"),
	}
	if responses != nil && opts.CacheTTL > 0 {
		c.responses = cache.WithNamespace(responses, cache.NamespaceResponse)
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// cachedResponse is the encoded form of a response-cache entry.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Execute dispatches req under policy. Every outcome is returned in the result.
func (c *Client) Execute(ctx context.Context, req usecase.OutboundRequest, policy retry.Policy) domain.InvocationResult {
	log := c.logger.With(
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
	)
	res := domain.InvocationResult{State: domain.StateCacheCheck}

	cacheKey := ""
	if c.responses != nil && domain.IsCacheableMethod(req.Method) {
		cacheKey = cache.ResponseKey(req.Method, req.URL.String(), req.Query, req.KeyParams, req.Body)
		if hit, ok := c.lookup(ctx, cacheKey, log); ok {
			res.StatusCode = hit.Status
			res.ContentType = hit.ContentType
			res.Body = hit.Body
			res.Decoded = decodeBody(hit.ContentType, hit.Body)
			res.FromCache = true
			log.Debug("Served from response cache")
			return res
		}
	}

	if _, ok := ctx.Deadline(); !ok && c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	res.State = domain.StateDispatched
	var last *http.Response
	var lastBody []byte
	attempts, err := retry.Do(ctx, policy, func(attemptCtx context.Context, attempt int) (retry.Verdict, error) {
		resp, body, err := c.dispatch(attemptCtx, req)
		if err != nil {
			terr := classifyTransport(ctx, attemptCtx, err)
			verdict := retry.Verdict{Retry: ctx.Err() == nil && policy.AllowsMethod(req.Method)}
			log.Warn("Upstream request failed",
				slog.Int("attempt", attempt),
				slog.String("kind", string(terr.Kind)),
				slog.Bool("retry", verdict.Retry),
				slog.Any("error", err))
			return verdict, terr
		}
		last, lastBody = resp, body

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return retry.Verdict{}, nil
		}
		uerr := &domain.UpstreamError{Status: resp.StatusCode, Body: snippet(body)}
		verdict := retry.Verdict{}
		if retryableStatus(resp.StatusCode) && policy.AllowsMethod(req.Method) {
			verdict.Retry = true
			verdict.After = retryAfter(resp)
		}
		log.Warn("Upstream returned error status",
			slog.Int("attempt", attempt),
			slog.Int("status", resp.StatusCode),
			slog.Bool("retry", verdict.Retry))
		return verdict, uerr
	})
	res.Attempts = attempts

	if last != nil {
		res.StatusCode = last.StatusCode
		res.ContentType = last.Header.Get("Content-Type")
		res.Body = lastBody
	}
	if err != nil {
		res.Err = finalError(ctx, err)
		return res
	}

	res.Decoded = decodeBody(res.ContentType, res.Body)
	if cacheKey != "" {
		c.store(ctx, cacheKey, cachedResponse{Status: res.StatusCode, ContentType: res.ContentType, Body: res.Body}, log)
	}
	return res
}

func (c *Client) dispatch(ctx context.Context, req usecase.OutboundRequest) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u := *req.URL
	u.RawQuery = req.Query.Encode()
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for _, ck := range req.Cookies {
		httpReq.AddCookie(ck)
	}
	if c.opts.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	// Draining and closing returns the connection to the pool.
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp, data, nil
}

func (c *Client) lookup(ctx context.Context, key string, log *slog.Logger) (cachedResponse, bool) {
	raw, ok, err := c.responses.Get(ctx, key)
	if err != nil {
		log.Warn("Response cache lookup failed", slog.Any("error", err))
		return cachedResponse{}, false
	}
	if !ok {
		return cachedResponse{}, false
	}
	var entry cachedResponse
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn("Discarding undecodable response cache entry", slog.Any("error", err))
		_ = c.responses.Invalidate(ctx, key)
		return cachedResponse{}, false
	}
	return entry, true
}

func (c *Client) store(ctx context.Context, key string, entry cachedResponse, log *slog.Logger) {
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Warn("Failed to encode response cache entry", slog.Any("error", err))
		return
	}
	if err := c.responses.Set(ctx, key, raw, c.opts.CacheTTL); err != nil {
		log.Warn("Response cache store failed", slog.Any("error", err))
	}
}

// classifyTransport maps a dispatch error to ConnectionFailed or Timeout.
// Cancellation of the caller's context is always a Timeout.
func classifyTransport(callerCtx, attemptCtx context.Context, err error) *domain.TransportError {
	if callerCtx.Err() != nil || attemptCtx.Err() != nil {
		return &domain.TransportError{Kind: domain.KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.TransportError{Kind: domain.KindTimeout, Err: err}
	}
	return &domain.TransportError{Kind: domain.KindConnectionFailed, Err: err}
}

// finalError keeps classified errors and turns an aborted backoff wait into a Timeout.
func finalError(ctx context.Context, err error) error {
	var (
		terr *domain.TransportError
		uerr *domain.UpstreamError
	)
	// A backoff wait cut by the caller carries the last attempt error too.
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) && domain.KindOf(err) != domain.KindTimeout {
		return &domain.TransportError{Kind: domain.KindTimeout, Err: err}
	}
	if errors.As(err, &terr) || errors.As(err, &uerr) {
		return err
	}
	if ctx.Err() != nil {
		return &domain.TransportError{Kind: domain.KindTimeout, Err: err}
	}
	return &domain.TransportError{Kind: domain.KindConnectionFailed, Err: err}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// decodeBody returns the JSON value of a JSON body, otherwise the body as a string.
func decodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	mt := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
