package gateway

import (
	"fmt"
	"time"

	"github.com/c360/thermstream/errors"
)

// Defaults for the status surface.
const (
	DefaultAddr            = ":8080"
	DefaultMaxRequestSize  = 1024 * 1024
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds configuration for the HTTP status surface.
type Config struct {
	// Addr is the listen address; empty disables the surface.
	Addr string `json:"addr" yaml:"addr"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true).
	// Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits the body of POST /api/lines in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	ReadTimeout     time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	IdleTimeout     time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`

	// AccessLog enables the combined-format access log on stdout.
	AccessLog bool `json:"access_log" yaml:"access_log"`

	// SubmitRate caps POST /api/lines requests per second; 0 is unlimited.
	SubmitRate  float64 `json:"submit_rate,omitempty" yaml:"submit_rate,omitempty"`
	SubmitBurst int     `json:"submit_burst,omitempty" yaml:"submit_burst,omitempty"`
}

// Validate fills zero values with defaults and rejects bad settings.
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	for name, d := range map[string]*time.Duration{
		"read_timeout":     &c.ReadTimeout,
		"write_timeout":    &c.WriteTimeout,
		"idle_timeout":     &c.IdleTimeout,
		"shutdown_timeout": &c.ShutdownTimeout,
	} {
		if *d < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("%s cannot be negative", name))
		}
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.SubmitRate < 0 || c.SubmitBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"submit_rate and submit_burst cannot be negative")
	}
	if c.SubmitRate > 0 && c.SubmitBurst == 0 {
		c.SubmitBurst = 1
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}
	return nil
}

// Enabled reports whether the surface should be served.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		CORSOrigins:     []string{},
		MaxRequestSize:  DefaultMaxRequestSize,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		AccessLog:       true,
	}
}
