package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Common OpenAPI schema paths used by various frameworks
var commonOpenAPIPaths = []string{
	"/openapi.json",            // FastAPI default
	"/openapi.yaml",            // Static YAML specs
	"/docs/openapi.json",       // Alternative FastAPI path
	"/v3/api-docs",             // SpringDoc OpenAPI 3.0
	"/api-docs",                // SpringFox
	"/api/openapi.json",        // Custom API prefix
	"/api/v1/openapi.json",     // Versioned API
	"/swagger/v1/swagger.json", // .NET default
	"/_spec",                   // Some Node.js frameworks
	"/spec",                    // Alternative spec path
	"/api-spec.json",           // Custom spec name
}

const candidateTimeout = 5 * time.Second

// AutoDiscoverer attempts to find OpenAPI documents under service base URLs.
type AutoDiscoverer struct {
	client *http.Client
	logger *slog.Logger
}

// NewAutoDiscoverer creates a new OpenAPI spec auto-discoverer.
func NewAutoDiscoverer(client *http.Client, logger *slog.Logger) *AutoDiscoverer {
	return &AutoDiscoverer{
		client: client,
		logger: logger.With("component", "openapi_autodiscoverer"),
	}
}

// looksLikeSpecURL reports whether source already names a document.
func looksLikeSpecURL(source string) bool {
	lower := strings.ToLower(source)
	if u, err := url.Parse(lower); err == nil {
		lower = u.Path
	}
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".yaml") ||
		strings.HasSuffix(lower, ".yml") ||
		strings.Contains(lower, "openapi") ||
		strings.Contains(lower, "swagger") ||
		strings.Contains(lower, "api-docs")
}

// ResolveSchemaSource returns source unchanged when it already names a
// document. Otherwise it tries well-known paths under source and returns the
// first that serves a spec, falling back to source when none does.
func (d *AutoDiscoverer) ResolveSchemaSource(ctx context.Context, source string, headers map[string]string) string {
	log := d.logger.With(slog.String("source", source))
	if looksLikeSpecURL(source) {
		log.Debug("Source appears to be a direct spec URL")
		return source
	}
	log.Info("Source appears to be a base URL, attempting auto-discovery")
	found, err := d.DiscoverSchema(ctx, source, headers)
	if err != nil {
		log.Warn("Auto-discovery failed, using original source", slog.Any("error", err))
		return source
	}
	return found
}

// DiscoverSchema tries the well-known spec paths under baseURL.
func (d *AutoDiscoverer) DiscoverSchema(ctx context.Context, baseURL string, headers map[string]string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("base URL must include scheme (http:// or https://)")
	}

	for _, p := range commonOpenAPIPaths {
		candidate := strings.TrimRight(baseURL, "/") + p
		ok, err := d.tryCandidate(ctx, candidate, headers)
		if err != nil {
			d.logger.Debug("Error checking path", slog.String("url", candidate), slog.Any("error", err))
			continue
		}
		if ok {
			d.logger.Info("Found OpenAPI spec", slog.String("url", candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no OpenAPI spec found at base URL: %s", baseURL)
}

// tryCandidate reports whether candidate answers 200 with a JSON or YAML body.
func (d *AutoDiscoverer) tryCandidate(ctx context.Context, candidate string, headers map[string]string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json, application/vnd.oai.openapi+json, application/yaml")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(ct, "json") || strings.Contains(ct, "yaml"), nil
}
