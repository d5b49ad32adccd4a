// Package credentials resolves the broker API token, API secret and the
// optional TOTP shared secret from the hosting UI's secrets store or the
// process environment.
package credentials

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ErrCredentialsMissing indicates no source provided both token and secret.
var ErrCredentialsMissing = errors.New("credentials missing")

// ErrDestroyed is returned when secrets are read after Destroy.
var ErrDestroyed = errors.New("credentials destroyed")

// Credentials holds what one login attempt needs. The API secret and the
// shared secret live in memguard Enclaves (encrypted in memory); call
// Destroy when the attempt is over.
type Credentials struct {
	token        string
	secret       *memguard.Enclave
	sharedSecret *memguard.Enclave

	// Source names where the token and secret came from.
	Source string
	// SharedSecretSource names where the shared secret came from, or is
	// empty when there is none.
	SharedSecretSource string

	destroyed bool
}

// New builds Credentials from plain values. Passing an empty sharedSecret
// means automatic one-time codes are unavailable.
func New(token, secret, sharedSecret string) *Credentials {
	return &Credentials{
		token:        token,
		secret:       seal(secret),
		sharedSecret: seal(sharedSecret),
	}
}

// Token returns the public API token.
func (c *Credentials) Token() string {
	if c == nil || c.destroyed {
		return ""
	}
	return c.token
}

// Secret opens the API secret enclave and returns a copy of its contents.
func (c *Credentials) Secret() (string, error) {
	if c == nil || c.destroyed {
		return "", ErrDestroyed
	}
	return openEnclave(c.secret)
}

// HasSharedSecret reports whether automatic one-time codes are possible.
func (c *Credentials) HasSharedSecret() bool {
	return c != nil && !c.destroyed && c.sharedSecret != nil
}

// SharedSecret returns the TOTP shared secret. ok is false when none was
// resolved.
func (c *Credentials) SharedSecret() (secret string, ok bool, err error) {
	if c == nil || c.destroyed {
		return "", false, ErrDestroyed
	}
	if c.sharedSecret == nil {
		return "", false, nil
	}
	s, err := openEnclave(c.sharedSecret)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// Destroy drops the enclaves. After calling Destroy, the Credentials must
// not be reused.
func (c *Credentials) Destroy() {
	if c == nil || c.destroyed {
		return
	}
	c.token = ""
	c.secret = nil
	c.sharedSecret = nil
	c.destroyed = true
}

// seal returns nil for empty input; memguard refuses empty enclaves.
func seal(s string) *memguard.Enclave {
	if s == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(s))
}

func openEnclave(e *memguard.Enclave) (string, error) {
	if e == nil {
		return "", nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	// string() copies out of the locked buffer before it is destroyed.
	return string(buf.Bytes()), nil
}
