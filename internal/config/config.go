// Package config loads process settings from COMPUTE_MCP_* variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
)

// Config stores environment-driven settings for the server.
type Config struct {
	// Transport selects stdio or http.
	Transport string `env:"COMPUTE_MCP_TRANSPORT" envDefault:"stdio"`
	// Host is the HTTP listen host.
	Host string `env:"COMPUTE_MCP_HOST" envDefault:"127.0.0.1"`
	// Port is the HTTP listen port.
	Port int `env:"COMPUTE_MCP_PORT" envDefault:"8080"`
	// HTTPPath is the MCP endpoint path.
	HTTPPath string `env:"COMPUTE_MCP_HTTP_PATH" envDefault:"/mcp"`
	// HTTPStateless disables MCP session tracking.
	HTTPStateless bool `env:"COMPUTE_MCP_HTTP_STATELESS" envDefault:"false"`
	// APIKey enables bearer authentication on the HTTP transport when set.
	APIKey string `env:"COMPUTE_MCP_API_KEY"`

	// EnginePath is the engine executable, a bare name is looked up in PATH.
	EnginePath string `env:"COMPUTE_MCP_ENGINE_PATH" envDefault:"wolframscript"`
	// DefaultTimeout applies when a call omits timeoutSeconds (seconds).
	DefaultTimeout int `env:"COMPUTE_MCP_DEFAULT_TIMEOUT" envDefault:"30"`
	// MaxTimeout caps timeoutSeconds (seconds).
	MaxTimeout int `env:"COMPUTE_MCP_MAX_TIMEOUT" envDefault:"300"`
	// WarmupTimeout bounds the startup warmup evaluation (seconds).
	WarmupTimeout int `env:"COMPUTE_MCP_WARMUP_TIMEOUT" envDefault:"60"`
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration `env:"COMPUTE_MCP_KILL_GRACE" envDefault:"2s"`
	// MaxOutputLength is the truncation limit in characters.
	MaxOutputLength int `env:"COMPUTE_MCP_MAX_OUTPUT_LENGTH" envDefault:"10000"`
	// MaxCodeLength bounds the code argument in characters.
	MaxCodeLength int `env:"COMPUTE_MCP_MAX_CODE_LENGTH" envDefault:"100000"`
	// MaxConcurrent bounds simultaneously running engine processes.
	MaxConcurrent int `env:"COMPUTE_MCP_MAX_CONCURRENT" envDefault:"4"`
	// RatePerMinute throttles tool calls; 0 disables.
	RatePerMinute int `env:"COMPUTE_MCP_RATE_PER_MINUTE" envDefault:"0"`
	// CacheTTL enables result caching when positive.
	CacheTTL time.Duration `env:"COMPUTE_MCP_CACHE_TTL" envDefault:"0s"`
	// CacheMaxEntries bounds the result cache.
	CacheMaxEntries int `env:"COMPUTE_MCP_CACHE_MAX_ENTRIES" envDefault:"256"`

	// LogLevel sets the logger level.
	LogLevel string `env:"COMPUTE_MCP_LOG_LEVEL" envDefault:"info"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"COMPUTE_MCP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// ProfilePath points to an engine profile YAML; empty uses the embedded one.
	ProfilePath string `env:"COMPUTE_MCP_PROFILE"`

	// TracingEnabled turns on OTLP trace export.
	TracingEnabled bool `env:"COMPUTE_MCP_TRACING_ENABLED" envDefault:"false"`
	// OTLPEndpoint is the OTLP/gRPC collector address.
	OTLPEndpoint string `env:"COMPUTE_MCP_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	// ServiceName is reported in traces.
	ServiceName string `env:"COMPUTE_MCP_SERVICE_NAME" envDefault:"compute-mcp-server"`
}

// Load parses environment variables into Config and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes values and checks ranges.
func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case constants.TransportStdio, constants.TransportHTTP:
	default:
		return fmt.Errorf("COMPUTE_MCP_TRANSPORT must be stdio or http, got %q", c.Transport)
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("COMPUTE_MCP_PORT must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.HTTPPath, "/") {
		return errors.New("COMPUTE_MCP_HTTP_PATH must start with /")
	}
	if strings.TrimSpace(c.EnginePath) == "" {
		return errors.New("COMPUTE_MCP_ENGINE_PATH is required")
	}
	if c.DefaultTimeout < 1 || c.MaxTimeout < 1 || c.WarmupTimeout < 1 {
		return errors.New("timeouts must be at least 1 second")
	}
	if c.DefaultTimeout > c.MaxTimeout {
		return fmt.Errorf("COMPUTE_MCP_DEFAULT_TIMEOUT (%d) exceeds COMPUTE_MCP_MAX_TIMEOUT (%d)", c.DefaultTimeout, c.MaxTimeout)
	}
	if c.KillGrace <= 0 {
		return errors.New("COMPUTE_MCP_KILL_GRACE must be positive")
	}
	if c.MaxOutputLength < 1 || c.MaxCodeLength < 1 || c.MaxConcurrent < 1 {
		return errors.New("output, code and concurrency limits must be positive")
	}
	if c.RatePerMinute < 0 || c.CacheTTL < 0 || c.CacheMaxEntries < 0 {
		return errors.New("rate and cache settings must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("COMPUTE_MCP_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// ListenAddr returns host:port for the HTTP transport.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether bearer authentication is configured.
func (c Config) AuthEnabled() bool {
	return c.APIKey != ""
}

// WriteTimeout is long enough for the slowest permitted tool call.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.MaxTimeout)*time.Second + c.KillGrace + 30*time.Second
}
