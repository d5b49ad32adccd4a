// Package storage defines the persisted session record and the Store
// abstraction its backends implement.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Load when no complete record exists.
var ErrNotFound = errors.New("session record not found")

// ErrIncompleteRecord is returned by Save when a field is blank.
var ErrIncompleteRecord = errors.New("session record incomplete")

// Key names used by text-based backends.
const (
	KeyUserID              = "INTEGRATE_UID"
	KeyAccountID           = "INTEGRATE_ACTID"
	KeyAPISessionKey       = "INTEGRATE_API_SESSION_KEY"
	KeyTransportSessionKey = "INTEGRATE_WS_SESSION_KEY"
)

// Keys lists the four record keys in a stable order.
var Keys = []string{KeyUserID, KeyAccountID, KeyAPISessionKey, KeyTransportSessionKey}

// Record is the durable form of a broker session.
type Record struct {
	UserID              string `json:"uid"`
	AccountID           string `json:"actid"`
	APISessionKey       string `json:"api_session_key"`
	TransportSessionKey string `json:"ws_session_key"`
}

// Complete reports whether every field is present and non-blank.
func (r Record) Complete() bool {
	return strings.TrimSpace(r.UserID) != "" &&
		strings.TrimSpace(r.AccountID) != "" &&
		strings.TrimSpace(r.APISessionKey) != "" &&
		strings.TrimSpace(r.TransportSessionKey) != ""
}

// Values returns the record as key/value pairs.
func (r Record) Values() map[string]string {
	return map[string]string{
		KeyUserID:              r.UserID,
		KeyAccountID:           r.AccountID,
		KeyAPISessionKey:       r.APISessionKey,
		KeyTransportSessionKey: r.TransportSessionKey,
	}
}

// RecordFromValues builds a Record from key/value pairs. Values are
// trimmed; the result may be incomplete.
func RecordFromValues(m map[string]string) Record {
	return Record{
		UserID:              strings.TrimSpace(m[KeyUserID]),
		AccountID:           strings.TrimSpace(m[KeyAccountID]),
		APISessionKey:       strings.TrimSpace(m[KeyAPISessionKey]),
		TransportSessionKey: strings.TrimSpace(m[KeyTransportSessionKey]),
	}
}

// Store persists a single session record.
//
// Load returns ErrNotFound unless all four fields are present. Save must be
// atomic with respect to concurrent readers: a reader sees either the old
// record or the new one. Clear on an absent record is not an error.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}
