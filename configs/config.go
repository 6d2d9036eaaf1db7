package configs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/i2y/oapimcp/internal/adapter/outbound/auth"
	"github.com/i2y/oapimcp/internal/adapter/outbound/cache"
	"github.com/i2y/oapimcp/internal/adapter/outbound/github"
	"github.com/i2y/oapimcp/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/oapimcp/internal/adapter/outbound/metrics"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/retry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "oapimcp"

// Transports served by the command.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// AuthConfig is the upstream authentication section.
type AuthConfig struct {
	Type        string       `yaml:"type" envconfig:"TYPE"`
	Username    string       `yaml:"username" envconfig:"USERNAME"`
	Password    string       `yaml:"password" envconfig:"PASSWORD"`
	Token       string       `yaml:"token" envconfig:"TOKEN"`
	APIKey      string       `yaml:"api_key" envconfig:"API_KEY"`
	KeyName     string       `yaml:"key_name" envconfig:"KEY_NAME"`
	KeyLocation string       `yaml:"key_location" envconfig:"KEY_LOCATION"`
	OAuth2      OAuth2Config `yaml:"oauth2" envconfig:"OAUTH2"`
}

// OAuth2Config holds client-credentials settings.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url" envconfig:"TOKEN_URL"`
	ClientID     string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" envconfig:"SCOPES"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend" envconfig:"BACKEND"`
	MaxEntries    int           `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
	ResponseTTL   time.Duration `yaml:"response_ttl" envconfig:"RESPONSE_TTL"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
	BoltPath      string        `yaml:"bolt_path" envconfig:"BOLT_PATH"`
}

// RetryConfig bounds upstream and token endpoint retries.
type RetryConfig struct {
	MaxAttempts        int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelay          time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay           time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	PerAttemptTimeout  time.Duration `yaml:"per_attempt_timeout" envconfig:"PER_ATTEMPT_TIMEOUT"`
	Jitter             float64       `yaml:"jitter" envconfig:"JITTER"`
	AllowNonIdempotent bool          `yaml:"allow_non_idempotent" envconfig:"ALLOW_NON_IDEMPOTENT"`
}

// HTTPConfig sizes the upstream connection pool.
type HTTPConfig struct {
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" envconfig:"MAX_CONNS_PER_HOST"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" envconfig:"MAX_IDLE_CONNS_PER_HOST"`
	RequestTimeout      time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	RateLimit           float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateBurst           int           `yaml:"rate_burst" envconfig:"RATE_BURST"`
	MaxResponseBytes    int64         `yaml:"max_response_bytes" envconfig:"MAX_RESPONSE_BYTES"`
	UserAgent           string        `yaml:"user_agent" envconfig:"USER_AGENT"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND"`
	History int    `yaml:"history" envconfig:"HISTORY"`
}

// Config holds the final application configuration. Values start from
// Default, are overlaid by the YAML file and then by environment variables
// with the prefix "OAPIMCP_".
type Config struct {
	ConfigFilePath string `yaml:"-" envconfig:"CONFIG_FILE"`

	APIName              string            `yaml:"api_name" envconfig:"API_NAME"`
	Spec                 string            `yaml:"spec" envconfig:"SPEC"`
	SpecHeaders          map[string]string `yaml:"spec_headers" envconfig:"SPEC_HEADERS"`
	BaseURL              string            `yaml:"base_url" envconfig:"BASE_URL"`
	NameStyle            string            `yaml:"name_style" envconfig:"NAME_STYLE"`
	StrictSpec           bool              `yaml:"strict_spec" envconfig:"STRICT_SPEC"`
	DisableAutoDiscovery bool              `yaml:"disable_auto_discovery" envconfig:"DISABLE_AUTO_DISCOVERY"`
	WatchSpec            bool              `yaml:"watch_spec" envconfig:"WATCH_SPEC"`

	Transport  string `yaml:"transport" envconfig:"TRANSPORT"`
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	// PublicURL is the base URL SSE clients use to reach ListenAddr.
	PublicURL string `yaml:"public_url" envconfig:"PUBLIC_URL"`
	// AdminAddr serves the admin endpoints. Empty disables them.
	AdminAddr string `yaml:"admin_addr" envconfig:"ADMIN_ADDR"`

	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	ServerIdleTimeout  time.Duration `yaml:"server_idle_timeout" envconfig:"SERVER_IDLE_TIMEOUT"`

	OtelExporterOtlpEndpoint string `yaml:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool   `yaml:"otel_exporter_otlp_insecure" envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
	LogLevel                 string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	// LogFile receives logs in stdio mode, where stdout carries the protocol.
	LogFile string `yaml:"log_file" envconfig:"LOG_FILE"`

	Auth    AuthConfig    `yaml:"auth" envconfig:"AUTH"`
	Cache   CacheConfig   `yaml:"cache" envconfig:"CACHE"`
	Retry   RetryConfig   `yaml:"retry" envconfig:"RETRY"`
	HTTP    HTTPConfig    `yaml:"http" envconfig:"HTTP"`
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	policy := retry.DefaultPolicy()
	httpOpts := httpinvoker.DefaultOptions()
	return &Config{
		NameStyle:          string(domain.NameStyleVerbatim),
		Transport:          TransportStdio,
		ListenAddr:         ":8080",
		ShutdownTimeout:    5 * time.Second,
		ServerReadTimeout:  5 * time.Second,
		ServerWriteTimeout: 10 * time.Second,
		ServerIdleTimeout:  120 * time.Second,

		OtelExporterOtlpInsecure: true,
		LogLevel:                 "info",

		Auth: AuthConfig{Type: auth.TypeNone, KeyLocation: auth.InHeader},
		Cache: CacheConfig{
			Backend:     "memory",
			MaxEntries:  1024,
			ResponseTTL: httpOpts.CacheTTL,
			RedisAddr:   "localhost:6379",
			BoltPath:    "oapimcp-cache.db",
		},
		Retry: RetryConfig{
			MaxAttempts:       policy.MaxAttempts,
			BaseDelay:         policy.BaseDelay,
			MaxDelay:          policy.MaxDelay,
			PerAttemptTimeout: policy.PerAttemptTimeout,
			Jitter:            policy.Jitter,
		},
		HTTP: HTTPConfig{
			MaxConnsPerHost:     httpOpts.MaxConnsPerHost,
			MaxIdleConnsPerHost: httpOpts.MaxIdleConnsPerHost,
			RequestTimeout:      httpOpts.RequestTimeout,
			MaxResponseBytes:    httpOpts.MaxResponseBytes,
			UserAgent:           httpOpts.UserAgent,
		},
		Metrics: MetricsConfig{Backend: metrics.BackendMemory, History: metrics.DefaultHistory},
	}
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Load builds the configuration. path names the YAML file; when empty,
// OAPIMCP_CONFIG_FILE is used, and without either only defaults and
// environment variables apply. github:// paths are fetched through gh.
func Load(ctx context.Context, path string) (*Config, error) {
	// 1. Locate the config file
	var locator struct {
		ConfigFilePath string `envconfig:"CONFIG_FILE"`
	}
	if err := envconfig.Process(EnvPrefix, &locator); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}
	if path == "" {
		path = locator.ConfigFilePath
	}

	cfg := Default()

	// 2. Overlay the YAML file
	if path != "" {
		data, err := readFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", path, err)
		}
		slog.Info("Loaded configuration from file.", "path", path)
	} else {
		slog.Info("No config file path specified (OAPIMCP_CONFIG_FILE), using defaults/env vars only.")
	}
	cfg.ConfigFilePath = path

	// 3. Environment variables override file settings. Unset variables leave
	// fields untouched, which is why no envconfig defaults are declared.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}
	return cfg, nil
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if github.IsGitHubURL(path) {
		data, err := github.NewFetcher(nil, slog.Default()).Fetch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from GitHub '%s': %w", path, err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return data, nil
}

// Validate rejects unknown enum values and missing required settings.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed ...string) {
		v := strings.ToLower(strings.TrimSpace(value))
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}

	if c.Spec == "" {
		errs = append(errs, errors.New("spec: a spec location is required"))
	}
	oneOf("transport", c.Transport, TransportStdio, TransportSSE)
	oneOf("name_style", c.NameStyle, string(domain.NameStyleVerbatim), string(domain.NameStyleSnake))
	oneOf("log_level", c.LogLevel, "debug", "info", "warn", "warning", "error")
	oneOf("auth.type", c.Auth.Type, auth.TypeNone, auth.TypeBasic, auth.TypeBearer, auth.TypeAPIKey, auth.TypeOAuth2)
	if strings.EqualFold(c.Auth.Type, auth.TypeAPIKey) {
		oneOf("auth.key_location", c.Auth.KeyLocation, auth.InHeader, auth.InQuery, auth.InCookie)
	}
	oneOf("cache.backend", c.Cache.Backend, "memory", "redis", "bolt", "none")
	oneOf("metrics.backend", c.Metrics.Backend, metrics.BackendMemory, metrics.BackendPrometheus, metrics.BackendOTel)

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter: must be within [0, 1], got %v", c.Retry.Jitter))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry: delays must not be negative"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit: must not be negative, got %v", c.HTTP.RateLimit))
	}
	return errors.Join(errs...)
}

// SpecSource is where the OpenAPI document is loaded from.
func (c *Config) SpecSource() domain.SpecSource {
	return domain.SpecSource{Location: c.Spec, Headers: c.SpecHeaders}
}

// AuthConfig maps the auth section onto the resolver configuration.
func (c *Config) AuthConfig() auth.Config {
	a := c.Auth
	return auth.Config{
		Type:        strings.ToLower(a.Type),
		Username:    a.Username,
		Password:    a.Password,
		Token:       a.Token,
		APIKey:      a.APIKey,
		KeyName:     a.KeyName,
		KeyLocation: strings.ToLower(a.KeyLocation),
		OAuth2: auth.OAuth2Config{
			TokenURL:     a.OAuth2.TokenURL,
			ClientID:     a.OAuth2.ClientID,
			ClientSecret: a.OAuth2.ClientSecret,
			Scopes:       a.OAuth2.Scopes,
		},
	}
}

// CacheOptions maps the cache section onto the cache factory options.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:    strings.ToLower(c.Cache.Backend),
		MaxEntries: c.Cache.MaxEntries,
		Redis: cache.RedisOptions{
			Addr:      c.Cache.RedisAddr,
			Password:  c.Cache.RedisPassword,
			DB:        c.Cache.RedisDB,
			KeyPrefix: c.Cache.RedisPrefix,
		},
		BoltPath: c.Cache.BoltPath,
	}
}

// RetryPolicy maps the retry section onto a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:        c.Retry.MaxAttempts,
		BaseDelay:          c.Retry.BaseDelay,
		MaxDelay:           c.Retry.MaxDelay,
		Jitter:             c.Retry.Jitter,
		PerAttemptTimeout:  c.Retry.PerAttemptTimeout,
		AllowNonIdempotent: c.Retry.AllowNonIdempotent,
	}
}

// HTTPOptions maps the http and cache sections onto the upstream client options.
func (c *Config) HTTPOptions() httpinvoker.Options {
	return httpinvoker.Options{
		MaxConnsPerHost:     c.HTTP.MaxConnsPerHost,
		MaxIdleConnsPerHost: c.HTTP.MaxIdleConnsPerHost,
		RequestTimeout:      c.HTTP.RequestTimeout,
		RateLimit:           c.HTTP.RateLimit,
		RateBurst:           c.HTTP.RateBurst,
		CacheTTL:            c.Cache.ResponseTTL,
		MaxResponseBytes:    c.HTTP.MaxResponseBytes,
		UserAgent:           c.HTTP.UserAgent,
	}
}
