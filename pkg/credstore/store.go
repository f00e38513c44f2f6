// Package credstore persists the long-lived mesh API key in a YAML file
// under the user's configuration directory, mode 0600. Nothing else meshgate
// touches is stored locally: workflow state is always rehydrated from live
// infrastructure.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileName is the credentials file inside the meshgate config directory.
const fileName = "credentials.yml"

// credentials is the on-disk shape.
type credentials struct {
	MeshAPIKey string `yaml:"mesh_api_key"`
}

// Store reads and writes the credential file.
type Store struct {
	path string
}

// New creates a store rooted at the user config directory
// (e.g. ~/.config/meshgate/credentials.yml).
func New() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating user config dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "meshgate", fileName)}, nil
}

// NewAt creates a store at an explicit path; tests use this.
func NewAt(path string) *Store {
	return &Store{path: path}
}

// GetAPIKey returns the stored mesh API key, or "" when none is stored yet.
func (s *Store) GetAPIKey() (string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}
	var creds credentials
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return "", fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return creds.MeshAPIKey, nil
}

// SetAPIKey stores the mesh API key, creating the config directory as
// needed.
func (s *Store) SetAPIKey(key string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := yaml.Marshal(credentials{MeshAPIKey: key})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}
