package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API     APIConfig
	Client  ClientConfig
	Observe ObserveConfig
	Query   QueryConfig
	Session SessionConfig
}

// APIConfig describes the REST backend the client talks to.
type APIConfig struct {
	BaseURL string `env:"OPSDESK_API_URL, default=http://localhost:8080"`

	// RefreshPath is the endpoint used to exchange a refresh token for a new
	// access token.
	RefreshPath string `env:"OPSDESK_API_REFRESH_PATH, default=/auth/refresh-token"`
	LoginPath   string `env:"OPSDESK_API_LOGIN_PATH, default=/auth/login"`

	// LoginRoute is where the client is sent when the session cannot be
	// recovered.
	LoginRoute string `env:"OPSDESK_LOGIN_ROUTE, default=/login"`

	// TimeoutSeconds of zero leaves the HTTP client without a timeout.
	TimeoutSeconds int `env:"OPSDESK_API_TIMEOUT_SECS, default=0"`

	// RequestsPerSecond of zero disables client side rate limiting.
	RequestsPerSecond float64 `env:"OPSDESK_API_REQUESTS_PER_SEC, default=0"`
	RequestBurst      int     `env:"OPSDESK_API_REQUEST_BURST, default=5"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ClientConfig struct {
	OutgoingHTTPMaxIdleConns    int `env:"OPSDESK_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"OPSDESK_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// QueryConfig controls the query result cache.
type QueryConfig struct {
	MaxEntries int `env:"OPSDESK_QUERY_CACHE_MAX_ENTRIES, default=1000"`

	// GCTimeSeconds is how long an entry is retained after it was last
	// written.
	GCTimeSeconds int `env:"OPSDESK_QUERY_CACHE_GC_SECS, default=300"`
}

func (c QueryConfig) GCTime() time.Duration {
	return time.Duration(c.GCTimeSeconds) * time.Second
}

// SessionConfig specifies where the session token pair is persisted.
type SessionConfig struct {
	// Dir holds the session file. Empty selects the user configuration
	// directory.
	Dir string `env:"OPSDESK_SESSION_DIR"`

	// KMSKeyID enables encryption of the session file with the given AWS KMS
	// key (ID, ARN or alias).
	KMSKeyID string `env:"OPSDESK_SESSION_KMS_KEY_ID"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=opsdesk"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Port                   int    `env:"DEVSERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int    `env:"DEVSERVER_SHUTDOWN_TIMEOUT_SECS, default=10"`
	TokenSecret            string `env:"DEVSERVER_TOKEN_SECRET, default=opsdesk-development-signing-secret-2026"`
	Issuer                 string `env:"DEVSERVER_ISSUER, default=opsdesk-devserver"`
	Audience               string `env:"DEVSERVER_AUDIENCE, default=opsdesk"`
	AccessTokenTTLSeconds  int    `env:"DEVSERVER_ACCESS_TOKEN_TTL_SECS, default=900"`
	RefreshTokenTTLSeconds int    `env:"DEVSERVER_REFRESH_TOKEN_TTL_SECS, default=86400"`

	// LoginEmail and LoginPassword are the single account accepted by the
	// login endpoint.
	LoginEmail    string `env:"DEVSERVER_LOGIN_EMAIL, default=admin@opsdesk.local"`
	LoginPassword string `env:"DEVSERVER_LOGIN_PASSWORD, default=opsdesk"`

	Observe ObserveConfig
}

func (c DevServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

func (c DevServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.API.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid API configuration: %w", err)
	}

	err = cfg.Query.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid query configuration: %w", err)
	}

	return cfg, nil
}

func LoadDevServer(ctx context.Context) (DevServerConfig, error) {
	return loadDevServer(ctx, nil)
}

func loadDevServer(ctx context.Context, lookup envconfig.Lookuper) (DevServerConfig, error) {
	var cfg DevServerConfig
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})
	if err != nil {
		return cfg, err
	}

	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("DEVSERVER_TOKEN_SECRET must not be empty")
	}

	if cfg.LoginEmail == "" || cfg.LoginPassword == "" {
		return cfg, fmt.Errorf("DEVSERVER_LOGIN_EMAIL and DEVSERVER_LOGIN_PASSWORD must not be empty")
	}

	if cfg.AccessTokenTTLSeconds <= 0 || cfg.RefreshTokenTTLSeconds <= 0 {
		return cfg, fmt.Errorf("token lifetimes must be positive")
	}

	return cfg, nil
}

// Validate checks that the API configuration is usable.
func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("OPSDESK_API_URL is not a valid URL: %w", err)
	}

	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("OPSDESK_API_URL must be an absolute URL: %s", c.BaseURL)
	}

	if c.RefreshPath == "" {
		return fmt.Errorf("OPSDESK_API_REFRESH_PATH must not be empty")
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("OPSDESK_API_REQUESTS_PER_SEC must not be negative")
	}

	if c.RequestsPerSecond > 0 && c.RequestBurst < 1 {
		return fmt.Errorf("OPSDESK_API_REQUEST_BURST must be at least 1 when rate limiting is enabled")
	}

	return nil
}

// Validate checks the query cache bounds.
func (c *QueryConfig) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("OPSDESK_QUERY_CACHE_MAX_ENTRIES must be positive")
	}

	if c.GCTimeSeconds <= 0 {
		return fmt.Errorf("OPSDESK_QUERY_CACHE_GC_SECS must be positive")
	}

	return nil
}
