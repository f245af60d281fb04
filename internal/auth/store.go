package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TokenStore persists the refresh token between gateway runs. The access
// token is never persisted; it is a cache recomputable from the refresh token.
type TokenStore interface {
	Load() (string, error)
	Save(refreshToken string) error
	Clear() error
}

// tokenFile is the on-disk JSON shape of the persisted credentials.
type tokenFile struct {
	// Type identifies the credential kind, always "oca".
	Type string `json:"type"`

	// RefreshToken is used to obtain new access tokens when the current one expires.
	RefreshToken string `json:"refresh_token"`

	// LastRefresh is the timestamp of the last write to this file.
	LastRefresh string `json:"last_refresh"`
}

// FileTokenStore stores the refresh token as a JSON file under the auth
// directory, created with owner-only permissions.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store writing to <authDir>/auth.json.
func NewFileTokenStore(authDir string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Join(authDir, "auth.json")}
}

// Load reads the persisted refresh token. A missing file is not an error; it
// simply means the gateway has never been logged in.
func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	var tf tokenFile
	if err = json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("failed to parse token file: %w", err)
	}
	return tf.RefreshToken, nil
}

// Save serializes the refresh token to the token file, creating the directory
// structure if needed.
func (s *FileTokenStore) Save(refreshToken string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	tf := tokenFile{
		Type:         "oca",
		RefreshToken: refreshToken,
		LastRefresh:  time.Now().Format(time.RFC3339),
	}
	if err = json.NewEncoder(f).Encode(&tf); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear removes the token file. A file that is already gone is fine.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
