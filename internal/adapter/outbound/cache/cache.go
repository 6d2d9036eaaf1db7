// Package cache provides the CacheProvider backends: an in-process LRU,
// Redis and a bbolt file. All backends treat a non-positive TTL as
// "do not store" and never return an entry past its expiry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/i2y/oapimcp/internal/usecase"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("cache closed")

// Namespace names an independent key space inside one backend.
type Namespace string

const (
	NamespaceResponse Namespace = "resp"
	NamespaceToken    Namespace = "token"
)

// Namespaced prefixes every key so that callers sharing a backend never collide.
type Namespaced struct {
	inner  usecase.CacheProvider
	prefix string
}

// WithNamespace wraps p so that all keys live under ns.
func WithNamespace(p usecase.CacheProvider, ns Namespace) *Namespaced {
	return &Namespaced{inner: p, prefix: string(ns) + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.inner.Set(ctx, n.prefix+key, value, ttl)
}

func (n *Namespaced) Invalidate(ctx context.Context, key string) error {
	return n.inner.Invalidate(ctx, n.prefix+key)
}

// ResponseKey hashes method, URL, query, header and cookie parameters and body
// into a response cache key. url.Values.Encode sorts by name, so argument
// order never matters.
func ResponseKey(method, rawURL string, query, params url.Values, body []byte) string {
	bodySum := sha256.Sum256(body)
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(rawURL))
	h.Write([]byte{0})
	h.Write([]byte(query.Encode()))
	h.Write([]byte{0})
	h.Write([]byte(params.Encode()))
	h.Write([]byte{0})
	h.Write(bodySum[:])
	return hex.EncodeToString(h.Sum(nil))
}

// TokenKey identifies an OAuth2 token by client id and scope set.
func TokenKey(clientID string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return clientID + "|" + strings.Join(sorted, " ")
}

// Noop stores nothing. It backs the "none" cache backend.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Invalidate(context.Context, string) error                 { return nil }
