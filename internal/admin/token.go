// Package admin authenticates privileged-mode toggles coming from
// untrusted transports. A random key is kept in the state directory; a
// caller that can read it may enable privileged mode for a bounded time.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultDuration is how long privileged mode lasts when no ttl is given.
	DefaultDuration = 10 * time.Minute
	// MaxDuration is the longest privileged window a token grants.
	MaxDuration = 1 * time.Hour

	keyBytes = 32
)

// ErrUnauthorized is returned for a missing or wrong token.
var ErrUnauthorized = errors.New("admin: invalid token")

// KeyFile is the admin key file name inside the state directory.
const KeyFile = "admin.key"

// DefaultPath returns the default admin key location.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, KeyFile)
}

// LoadOrCreate reads the key at path, generating it on first use.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("admin: key file %s is empty", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("admin: read key: %w", err)
	}

	key, err := generateKey()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("admin: create key dir: %w", err)
	}
	if err := writeAtomic(path, []byte(key+"\n")); err != nil {
		return "", fmt.Errorf("admin: write key: %w", err)
	}
	return key, nil
}

// Rotate replaces the key at path with a fresh one.
func Rotate(path string) (string, error) {
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("admin: create key dir: %w", err)
	}
	if err := writeAtomic(path, []byte(key+"\n")); err != nil {
		return "", fmt.Errorf("admin: write key: %w", err)
	}
	return key, nil
}

// Authorizer checks presented tokens against one key.
type Authorizer struct {
	key string
}

// NewAuthorizer returns an Authorizer for key. An empty key rejects everything.
func NewAuthorizer(key string) *Authorizer {
	return &Authorizer{key: strings.TrimSpace(key)}
}

// Verify reports whether token matches the key, in constant time.
func (a *Authorizer) Verify(token string) bool {
	if a == nil || a.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.key), []byte(strings.TrimSpace(token))) == 1
}

// Grant validates a request to enable privileged mode and returns the
// window to apply. A reason is mandatory, ttl defaults to DefaultDuration
// and may not exceed MaxDuration.
func (a *Authorizer) Grant(token, reason string, ttl time.Duration) (time.Duration, error) {
	if !a.Verify(token) {
		return 0, ErrUnauthorized
	}
	if strings.TrimSpace(reason) == "" {
		return 0, fmt.Errorf("admin: a reason is required to enable privileged mode")
	}
	if ttl <= 0 {
		ttl = DefaultDuration
	}
	if ttl > MaxDuration {
		return 0, fmt.Errorf("admin: privileged duration %s exceeds maximum %s", ttl, MaxDuration)
	}
	return ttl, nil
}

func generateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("admin: generate key: %w", err)
	}
	return "sg-" + hex.EncodeToString(b), nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
