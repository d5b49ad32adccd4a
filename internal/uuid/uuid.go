// Package uuid generates random identifiers for CSRF tokens, order remarks
// and webhook events.
package uuid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID in its canonical string form.
func New() string {
	return uuid.NewString()
}

// Short returns the first 12 hex characters of a random UUID. Brokers cap
// the length of free-text order tags, so this is what goes into remarks.
func Short() string {
	id := uuid.New()
	return hex.EncodeToString(id[:6])
}
