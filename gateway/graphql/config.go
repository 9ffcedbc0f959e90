package graphql

import (
	"fmt"
	"strings"
	"time"

	"github.com/patseev/caliban/errors"
)

// Config holds the gateway server configuration. Duration fields are JSON
// strings in time.ParseDuration syntax ("10s", "1m30s") so the config file
// stays readable.
type Config struct {
	// BindAddress is the host:port the HTTP server listens on.
	BindAddress string `json:"bind_address"`

	// Path is the endpoint serving both HTTP requests and WebSocket
	// upgrades. Must start with "/".
	Path string `json:"path"`

	// KeepAliveInterval is the period between ka heartbeats on each
	// socket. Empty or "0" disables keep-alive entirely.
	KeepAliveInterval string `json:"keep_alive_interval,omitempty"`

	// Timeout bounds single-shot HTTP execution. Empty selects the
	// default.
	Timeout string `json:"timeout,omitempty"`

	// MaxRequestSize caps the HTTP request body in bytes. Zero selects
	// the default.
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// SkipValidation asks the execution engine to skip document
	// validation. Intended for trusted internal callers only.
	SkipValidation bool `json:"skip_validation,omitempty"`

	// EnableIntrospection allows introspection queries through to the
	// engine.
	EnableIntrospection bool `json:"enable_introspection"`

	// EnablePlayground serves the GraphiQL playground at /playground.
	EnablePlayground bool `json:"enable_playground,omitempty"`

	// EnableCORS adds CORS headers for browser clients.
	EnableCORS bool `json:"enable_cors,omitempty"`

	// CORSOrigins lists allowed origins. Empty with EnableCORS set
	// allows any origin.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	keepAlive time.Duration
	timeout   time.Duration
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() Config {
	return Config{
		BindAddress:         ":8088",
		Path:                "/graphql",
		KeepAliveInterval:   "10s",
		Timeout:             "30s",
		MaxRequestSize:      1 << 20,
		EnableIntrospection: true,
		EnablePlayground:    true,
	}
}

// Validate checks the configuration and applies defaults for unset fields.
// It must be called before the config is handed to NewServer.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = ":8088"
	}
	if c.Path == "" {
		c.Path = "/graphql"
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("path %q must start with /", c.Path),
			"Config", "Validate", "invalid endpoint path")
	}

	if c.Timeout == "" {
		c.timeout = 30 * time.Second
	} else {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid timeout %q", c.Timeout))
		}
		if d <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("timeout %q must be positive", c.Timeout),
				"Config", "Validate", "invalid timeout")
		}
		c.timeout = d
	}

	switch c.KeepAliveInterval {
	case "", "0", "0s":
		c.keepAlive = 0
	default:
		d, err := time.ParseDuration(c.KeepAliveInterval)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid keep_alive_interval %q", c.KeepAliveInterval))
		}
		if d < 100*time.Millisecond {
			return errors.WrapInvalid(
				fmt.Errorf("keep_alive_interval %q below 100ms", c.KeepAliveInterval),
				"Config", "Validate", "keep-alive interval too small")
		}
		c.keepAlive = d
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max_request_size %d must not be negative", c.MaxRequestSize),
			"Config", "Validate", "invalid request size limit")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1 << 20
	}

	return nil
}

// KeepAlive returns the parsed keep-alive interval. Zero means disabled.
func (c *Config) KeepAlive() time.Duration { return c.keepAlive }

// ExecutionTimeout returns the parsed single-shot execution timeout.
func (c *Config) ExecutionTimeout() time.Duration { return c.timeout }
