package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/oapimcp/internal/adapter/outbound/github"
	"github.com/i2y/oapimcp/internal/domain"
)

// maxDocumentBytes caps how much of a spec is read.
const maxDocumentBytes = 32 << 20

// LoaderOptions tune SpecLoader behavior.
type LoaderOptions struct {
	// Strict turns kin-openapi validation findings into Malformed errors.
	// Otherwise they are logged and loading continues.
	Strict bool
	// DisableAutoDiscovery stops probing well-known paths under a base URL.
	DisableAutoDiscovery bool
}

// SpecLoader implements usecase.SpecLoader on top of kin-openapi.
type SpecLoader struct {
	httpClient     *http.Client
	opts           LoaderOptions
	logger         *slog.Logger
	autoDiscoverer *AutoDiscoverer
	github         RepoFetcher
}

// RepoFetcher reads github:// locations.
type RepoFetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// NewSpecLoader creates a new OpenAPI SpecLoader.
func NewSpecLoader(client *http.Client, opts LoaderOptions, logger *slog.Logger) *SpecLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &SpecLoader{
		httpClient:     client,
		opts:           opts,
		logger:         logger.With("component", "openapi_loader"),
		autoDiscoverer: NewAutoDiscoverer(client, logger),
	}
}

// WithGitHub enables github:// spec locations.
func (l *SpecLoader) WithGitHub(f RepoFetcher) *SpecLoader {
	l.github = f
	return l
}

// Load fetches, parses and validates the document described by src and
// returns its operations in declaration order. Nothing is returned on failure.
func (l *SpecLoader) Load(ctx context.Context, src domain.SpecSource) (domain.APISpec, error) {
	log := l.logger.With(slog.String("source", src.String()))
	log.Info("Loading OpenAPI spec")

	raw, err := l.fetch(ctx, src, log)
	if err != nil {
		return domain.APISpec{}, err
	}
	spec, err := l.parse(ctx, raw, log)
	if err != nil {
		return domain.APISpec{}, err
	}
	log.Info("Successfully loaded OpenAPI spec",
		slog.String("format", string(spec.Format)),
		slog.Int("operations", len(spec.Operations)))
	return spec, nil
}

// fetched is a document body with what is known about its origin.
type fetched struct {
	location    string
	locationURL *url.URL // nil for inline data
	contentType string
	data        []byte
}

func (l *SpecLoader) fetch(ctx context.Context, src domain.SpecSource, log *slog.Logger) (fetched, error) {
	if len(src.Data) > 0 {
		log.Debug("Using inline spec data")
		return fetched{location: src.String(), data: src.Data}, nil
	}
	if src.Location == "" {
		return fetched{}, &domain.SpecError{Kind: domain.KindSpecUnreachable, Source: src.String(), Err: errors.New("no spec location or data given")}
	}

	if github.IsGitHubURL(src.Location) {
		if l.github == nil {
			return fetched{}, &domain.SpecError{Kind: domain.KindSpecUnreachable, Source: src.Location, Err: errors.New("github locations are not enabled")}
		}
		data, err := l.github.Fetch(ctx, src.Location)
		if err != nil {
			return fetched{}, &domain.SpecError{Kind: domain.KindSpecUnreachable, Source: src.Location, Err: err}
		}
		return fetched{location: src.Location, data: data}, nil
	}

	u, parseErr := url.ParseRequestURI(src.Location)
	if parseErr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		location := src.Location
		if !l.opts.DisableAutoDiscovery {
			location = l.autoDiscoverer.ResolveSchemaSource(ctx, src.Location, src.Headers)
			if location != src.Location {
				log.Info("Auto-discovered OpenAPI spec", slog.String("resolved_url", location))
			}
		}
		return l.fetchURL(ctx, location, src.Headers, log)
	}

	log.Debug("Reading spec from local file")
	path, err := filepath.Abs(src.Location)
	if err != nil {
		path = src.Location
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read spec file", slog.Any("error", err))
		return fetched{}, &domain.SpecError{Kind: domain.KindSpecUnreachable, Source: src.Location, Err: err}
	}
	return fetched{
		location:    src.Location,
		locationURL: &url.URL{Scheme: "file", Path: filepath.ToSlash(path)},
		data:        data,
	}, nil
}

func (l *SpecLoader) fetchURL(ctx context.Context, location string, headers map[string]string, log *slog.Logger) (fetched, error) {
	unreachable := func(err error) (fetched, error) {
		log.Error("Failed to fetch spec", slog.String("url", location), slog.Any("error", err))
		return fetched{}, &domain.SpecError{Kind: domain.KindSpecUnreachable, Source: location, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return unreachable(err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, application/vnd.oai.openapi+json, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unreachable(fmt.Errorf("status %s", resp.Status))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return unreachable(fmt.Errorf("read body: %w", err))
	}
	u, _ := url.Parse(location)
	return fetched{
		location:    location,
		locationURL: u,
		contentType: resp.Header.Get("Content-Type"),
		data:        data,
	}, nil
}

func (l *SpecLoader) parse(ctx context.Context, raw fetched, log *slog.Logger) (domain.APISpec, error) {
	malformed := func(err error) (domain.APISpec, error) {
		log.Error("Malformed OpenAPI spec", slog.Any("error", err))
		return domain.APISpec{}, &domain.SpecError{Kind: domain.KindSpecMalformed, Source: raw.location, Err: err}
	}

	format := detectFormat(raw.location, raw.contentType, raw.data)
	doc, err := parseRawDocument(raw.data)
	if err != nil {
		return malformed(fmt.Errorf("parse %s: %w", format, err))
	}
	version, err := doc.version()
	if err != nil {
		log.Error("Unsupported OpenAPI version", slog.Any("error", err))
		return domain.APISpec{}, &domain.SpecError{Kind: domain.KindSpecUnsupportedVersion, Source: raw.location, Err: err}
	}
	order, empty := doc.operationOrder()
	if len(empty) > 0 {
		return malformed(fmt.Errorf("path item %q declares no operation", empty[0]))
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true
	loader.ReadFromURIFunc = openapi3.ReadFromURIs(openapi3.ReadFromHTTP(l.httpClient), openapi3.ReadFromFile)
	var kdoc *openapi3.T
	if raw.locationURL != nil {
		kdoc, err = loader.LoadFromDataWithPath(raw.data, raw.locationURL)
	} else {
		kdoc, err = loader.LoadFromData(raw.data)
	}
	if err != nil {
		return malformed(err)
	}
	if err := kdoc.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		if l.opts.Strict {
			return malformed(fmt.Errorf("validation: %w", err))
		}
		log.Warn("OpenAPI spec validation failed, continuing", slog.Any("validation_error", err))
	}

	spec := domain.APISpec{
		Source:         raw.location,
		Format:         format,
		OpenAPIVersion: version,
	}
	if kdoc.Info != nil {
		spec.Title = kdoc.Info.Title
		spec.Version = kdoc.Info.Version
		spec.Description = kdoc.Info.Description
	}
	if serverURL, err := resolveServerURL(log, raw.location, kdoc.Servers); err == nil {
		spec.ServerURL = serverURL
	} else {
		log.Warn("No usable server URL in spec", slog.Any("error", err))
	}

	n := &normalizer{logger: log}
	for _, ref := range completeOrder(order, kdoc.Paths) {
		item := kdoc.Paths.Value(ref.path)
		if item == nil {
			continue
		}
		op := item.GetOperation(ref.method)
		if op == nil {
			continue
		}
		spec.Operations = append(spec.Operations, n.operation(ref.path, ref.method, item, op))
	}
	if len(spec.Operations) == 0 {
		return malformed(errors.New("document declares no operations"))
	}
	return spec, nil
}

// completeOrder appends operations the node walk could not see, such as
// those of $ref path items, in sorted order after the declared ones.
func completeOrder(order []opRef, paths *openapi3.Paths) []opRef {
	if paths == nil {
		return order
	}
	seen := make(map[opRef]bool, len(order))
	for _, r := range order {
		seen[r] = true
	}
	var extra []opRef
	for p, item := range paths.Map() {
		if item == nil {
			continue
		}
		for m := range item.Operations() {
			r := opRef{path: p, method: strings.ToUpper(m)}
			if !seen[r] {
				extra = append(extra, r)
			}
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		if extra[i].path != extra[j].path {
			return extra[i].path < extra[j].path
		}
		return methodRank(extra[i].method) < methodRank(extra[j].method)
	})
	return append(order, extra...)
}

func methodRank(m string) int {
	for i, candidate := range methodOrder {
		if strings.EqualFold(candidate, m) {
			return i
		}
	}
	return len(methodOrder)
}
