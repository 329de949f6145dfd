// Package identity handles the participant's OAuth identity: the local
// token/display-name store and the GitHub API client used for reputation
// gating and attestation publication.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession indicates no stored token; the user must log in first.
var ErrNoSession = errors.New("identity: no stored session, run login first")

// Store persists the OAuth token and display name between runs. Lifecycle
// is login -> logout.
type Store struct {
	path string
}

type storedSession struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// DefaultStorePath places the session file under the user config dir.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "zkceremony-contributor", "session.json"), nil
}

// NewStore opens a store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the token and username, creating parent directories.
func (s *Store) Save(token, username string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("identity: create store dir: %w", err)
	}
	data, err := json.Marshal(storedSession{Token: token, Username: username})
	if err != nil {
		return fmt.Errorf("identity: encode session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("identity: write session: %w", err)
	}
	return nil
}

// Token returns the stored OAuth token.
func (s *Store) Token() (string, error) {
	sess, err := s.load()
	if err != nil {
		return "", err
	}
	return sess.Token, nil
}

// Username returns the stored display name.
func (s *Store) Username() (string, error) {
	sess, err := s.load()
	if err != nil {
		return "", err
	}
	return sess.Username, nil
}

// Clear removes the stored session. Clearing an absent session is not an
// error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("identity: clear session: %w", err)
	}
	return nil
}

func (s *Store) load() (storedSession, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return storedSession{}, ErrNoSession
		}
		return storedSession{}, fmt.Errorf("identity: read session: %w", err)
	}
	var sess storedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return storedSession{}, fmt.Errorf("identity: decode session: %w", err)
	}
	if sess.Token == "" {
		return storedSession{}, ErrNoSession
	}
	return sess, nil
}
