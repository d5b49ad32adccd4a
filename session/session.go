// Package session owns the broker session: reuse of the persisted record,
// credential resolution, one-time codes and the login exchange.
package session

import (
	"time"

	"github.com/jmcleod/tradedesk/storage"
)

// Origin records how a Session came to exist.
type Origin string

const (
	OriginCache Origin = "cache"
	OriginLogin Origin = "login"
)

// Session is the authenticated context every broker call needs.
type Session struct {
	UserID              string    `json:"uid"`
	AccountID           string    `json:"actid"`
	APISessionKey       string    `json:"-"`
	TransportSessionKey string    `json:"-"`
	Origin              Origin    `json:"origin"`
	EstablishedAt       time.Time `json:"established_at"`
}

// IsActive is true iff both session keys are present.
func (s *Session) IsActive() bool {
	return s != nil && s.APISessionKey != "" && s.TransportSessionKey != ""
}

// Record converts the session to its persisted form.
func (s *Session) Record() storage.Record {
	return storage.Record{
		UserID:              s.UserID,
		AccountID:           s.AccountID,
		APISessionKey:       s.APISessionKey,
		TransportSessionKey: s.TransportSessionKey,
	}
}

// FromRecord builds a Session from a persisted record without contacting
// the broker.
func FromRecord(rec storage.Record, origin Origin, at time.Time) *Session {
	return &Session{
		UserID:              rec.UserID,
		AccountID:           rec.AccountID,
		APISessionKey:       rec.APISessionKey,
		TransportSessionKey: rec.TransportSessionKey,
		Origin:              origin,
		EstablishedAt:       at,
	}
}
