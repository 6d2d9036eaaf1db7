// Package github fetches files addressed as github://owner/repo/path[@ref]
// through the gh CLI, which carries the user's GitHub credentials.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
)

// Scheme prefixes every GitHub location.
const Scheme = "github://"

// Location is a parsed github:// URL.
type Location struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// IsGitHubURL checks if a URL is a GitHub URL
func IsGitHubURL(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURL splits github://owner/repo/path/to/file[@ref].
func ParseURL(s string) (Location, error) {
	if !IsGitHubURL(s) {
		return Location{}, fmt.Errorf("not a GitHub URL: %s", s)
	}
	rest := strings.TrimPrefix(s, Scheme)
	var loc Location
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		loc.Ref = rest[i+1:]
		rest = rest[:i]
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Location{}, fmt.Errorf("invalid GitHub URL %q: expected github://owner/repo/path/to/file[@ref]", s)
	}
	loc.Owner, loc.Repo, loc.Path = parts[0], parts[1], parts[2]
	return loc, nil
}

// APIPath is the contents endpoint for the location.
func (l Location) APIPath() string {
	p := fmt.Sprintf("repos/%s/%s/contents/%s", l.Owner, l.Repo, l.Path)
	if l.Ref != "" {
		p += "?ref=" + url.QueryEscape(l.Ref)
	}
	return p
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s CLI is not installed: %w", name, err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s command failed: %s", name, msg)
		}
		return nil, fmt.Errorf("%s command failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Fetcher retrieves file contents from GitHub repositories.
type Fetcher struct {
	run    Runner
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. A nil run uses ExecRunner.
func NewFetcher(run Runner, logger *slog.Logger) *Fetcher {
	if run == nil {
		run = ExecRunner
	}
	return &Fetcher{run: run, logger: logger.With("component", "github_fetcher")}
}

// Fetch returns the decoded contents of the file at location.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	loc, err := ParseURL(location)
	if err != nil {
		return nil, err
	}
	log := f.logger.With(slog.String("owner", loc.Owner), slog.String("repo", loc.Repo), slog.String("path", loc.Path))
	log.Debug("Fetching file from GitHub")

	out, err := f.run(ctx, "gh", "api", loc.APIPath(), "--jq", ".content")
	if err != nil {
		log.Error("Failed to fetch file from GitHub", slog.Any("error", err))
		return nil, err
	}
	encoded := strings.TrimSpace(string(out))
	if encoded == "" || encoded == "null" {
		return nil, fmt.Errorf("empty response from GitHub for %s", location)
	}
	// The contents API wraps base64 at 60 columns; the decoder skips newlines.
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}
	return content, nil
}
