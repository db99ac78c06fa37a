// Package security holds the capture surface credential, transcript sanitization,
// paste-target classification and inbound rate limiting.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
)

// TokenBytes is the entropy of a credential before encoding.
const TokenBytes = 32

// Credential is the per-process secret every peer must present.
type Credential struct {
	mu    sync.RWMutex
	token string
}

// NewCredential generates a fresh URL-safe token.
func NewCredential() (*Credential, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	return &Credential{token: token}, nil
}

// Token returns the current secret.
func (c *Credential) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Hint returns a short prefix that is safe to log.
func (c *Credential) Hint() string {
	token := c.Token()
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}

// Validate compares candidate against the current secret without short-circuiting
// on the first differing byte.
func (c *Credential) Validate(candidate string) bool {
	current := c.Token()
	if current == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(current)) == 1
}

// Rotate replaces the secret. Connections that already authenticated keep working;
// only future handshakes see the new value.
func (c *Credential) Rotate() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func generateToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
