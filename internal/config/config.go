// Package config provides configuration management for the restbridge client.
// It handles loading and parsing YAML configuration files and provides
// structured access to the backend address, timeouts, retry policy, and
// diagnostics settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTimeoutMs is the transport-level request timeout.
	DefaultTimeoutMs = 30000

	// DefaultMaxRetries caps replays of a failed request.
	DefaultMaxRetries = 3

	// DefaultBaseDelayMs seeds the exponential backoff between retries.
	DefaultBaseDelayMs = 1000
)

// Config represents the client configuration, loaded from a YAML file.
// Environment references ($VAR or ${VAR}) inside the file are expanded
// before parsing.
type Config struct {
	// BaseURL is the backend address every request path is resolved against.
	BaseURL string `yaml:"base-url"`

	// TimeoutMs is the per-request transport timeout in milliseconds.
	TimeoutMs int `yaml:"timeout-ms"`

	// Headers are default headers attached to every request. Per-request
	// headers override entries with the same key.
	Headers map[string]string `yaml:"headers,omitempty"`

	// LoginPath is the endpoint exchanged for an initial credential pair.
	LoginPath string `yaml:"login-path"`

	// RefreshPath is the endpoint exchanged for a new credential pair when
	// the access credential expires.
	RefreshPath string `yaml:"refresh-path"`

	// MaxRetries caps automatic replays of transient failures.
	MaxRetries int `yaml:"max-retries"`

	// BaseDelayMs is the first backoff delay; attempt n waits base << (n-1).
	BaseDelayMs int `yaml:"base-delay-ms"`

	// ProxyURL optionally routes outbound requests through a proxy.
	ProxyURL string `yaml:"proxy-url,omitempty"`

	// CredentialsFile persists the credential pair between runs when set.
	CredentialsFile string `yaml:"credentials-file,omitempty"`

	// RequestLog enables the SQLite request diagnostics store at this path.
	RequestLog string `yaml:"request-log,omitempty"`

	// Debug lowers the log level to debug.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes logs to a rotated file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`
}

// NewDefaultConfig returns a Config with the documented defaults applied.
func NewDefaultConfig() *Config {
	return &Config{
		TimeoutMs:   DefaultTimeoutMs,
		Headers:     map[string]string{"Content-Type": "application/json"},
		LoginPath:   "/auth/login",
		RefreshPath: "/auth/refresh",
		MaxRetries:  DefaultMaxRetries,
		BaseDelayMs: DefaultBaseDelayMs,
	}
}

// LoadConfig reads the YAML file at path, expands environment references,
// and fills unset fields with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := &Config{}
	expanded := os.ExpandEnv(string(data))
	if err = yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelayMs <= 0 {
		c.BaseDelayMs = DefaultBaseDelayMs
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	if _, ok := c.Headers["Content-Type"]; !ok {
		c.Headers["Content-Type"] = "application/json"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/auth/login"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/auth/refresh"
	}
}

// Timeout returns the transport timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BaseDelay returns the first backoff delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}
