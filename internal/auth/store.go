// Package auth owns the credential pair used by the request pipeline.
// The store is lifecycle-scoped: it is created by the embedding application,
// injected into the client, initialized on login, and torn down on logout.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nghyane/restbridge/internal/json"
	"github.com/tailscale/hujson"

	log "github.com/nghyane/restbridge/internal/logging"
)

// Credentials is the access/refresh pair returned by the login and refresh
// endpoints.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store holds the current credential pair. Writes are visible to the next
// dispatched request; the pipeline never caches tokens across attempts.
type Store struct {
	mu       sync.RWMutex
	creds    Credentials
	path     string
	onLogout func()

	// loggedOut guards the logout signal so a burst of terminal auth
	// failures emits it once per session.
	loggedOut bool
}

// NewStore creates a store. When path is non-empty, a previously persisted
// pair is loaded from it and later updates are written back.
func NewStore(path string) *Store {
	s := &Store{path: path}
	if path != "" {
		if err := s.loadFromFile(path); err != nil {
			log.Debugf("auth: no usable credentials at %s: %v", path, err)
		}
	}
	return s
}

// SetOnLogout registers the signal fired when the session is unrecoverable.
// The embedding application typically navigates to its login entry point.
func (s *Store) SetOnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = fn
}

// AccessToken returns the current access credential, or "" when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

// RefreshToken returns the current refresh credential, or "" when absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

// Set replaces the credential pair and persists it when a path is configured.
// A fresh pair re-arms the logout signal.
func (s *Store) Set(creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.loggedOut = false
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return nil
	}
	return saveToFile(path, creds)
}

// Clear drops the credential pair and removes the persisted copy.
func (s *Store) Clear() {
	s.mu.Lock()
	s.creds = Credentials{}
	path := s.path
	s.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("auth: failed to remove credentials file %s: %v", path, err)
		}
	}
}

// Logout clears the stored credentials and fires the logout signal exactly
// once per session.
func (s *Store) Logout() {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return
	}
	s.loggedOut = true
	s.creds = Credentials{}
	path := s.path
	fn := s.onLogout
	s.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("auth: failed to remove credentials file %s: %v", path, err)
		}
	}
	if fn != nil {
		fn()
	}
}

// loadFromFile reads a persisted pair. The file is parsed leniently so
// hand-edited files with comments or trailing commas still load.
func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("auth: malformed credentials file: %w", err)
	}
	var creds Credentials
	if err = json.Unmarshal(standardized, &creds); err != nil {
		return fmt.Errorf("auth: failed to decode credentials file: %w", err)
	}
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

func saveToFile(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("auth: failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("auth: failed to create credentials file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err = json.NewEncoder(f).Encode(creds); err != nil {
		return fmt.Errorf("auth: failed to write credentials: %w", err)
	}
	return nil
}
