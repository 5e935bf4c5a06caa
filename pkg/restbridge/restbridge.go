// Package restbridge provides the public API for embedding the resilient
// request pipeline as a library. It wraps the internal implementation with a
// stable, minimal surface.
package restbridge

import (
	"github.com/nghyane/restbridge/internal/auth"
	"github.com/nghyane/restbridge/internal/client"
	"github.com/nghyane/restbridge/internal/config"
	"github.com/nghyane/restbridge/internal/reqlog"
)

// Client is the shared network-access layer.
type Client = client.Client

// Request describes one outbound call.
type Request = client.Request

// Envelope is the response contract every endpoint is expected to honor.
type Envelope = client.Envelope

// Error is the structured failure surfaced to callers.
type Error = client.Error

// Notifier surfaces terminal failures to the user layer.
type Notifier = client.Notifier

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc = client.NotifierFunc

// InFlight is a dispatched request with an explicit cancel handle.
type InFlight = client.InFlight

// Config is the client configuration.
type Config = config.Config

// Watcher hot-reloads the configuration file.
type Watcher = config.Watcher

// Store holds the credential pair used by the pipeline.
type Store = auth.Store

// Credentials is the access/refresh pair.
type Credentials = auth.Credentials

// Recorder persists per-request diagnostics to SQLite.
type Recorder = reqlog.Recorder

// CodeTransport is the error code reserved for failures with no HTTP status.
const CodeTransport = client.CodeTransport

// New builds a client from cfg with credentials read from store.
func New(cfg *Config, store *Store) *Client {
	return client.New(cfg, store)
}

// NewConfig returns a configuration with defaults applied.
func NewConfig() *Config {
	return config.NewDefaultConfig()
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// NewConfigWatcher creates a hot-reload watcher for the config file at path.
func NewConfigWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	return config.NewWatcher(path, onReload)
}

// NewStore creates a credential store, persisted at path when non-empty.
func NewStore(path string) *Store {
	return auth.NewStore(path)
}

// NewRecorder opens the request diagnostics store at dbPath.
func NewRecorder(dbPath string) (*Recorder, error) {
	return reqlog.NewRecorder(dbPath)
}
