// Package memory provides a process-local storage.Store.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/tradedesk/storage"
)

// Store keeps the record in memory. Suitable for tests and ephemeral runs.
type Store struct {
	mu  sync.RWMutex
	rec *storage.Record
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec == nil || !s.rec.Complete() {
		return storage.Record{}, storage.ErrNotFound
	}
	return *s.rec, nil
}

func (s *Store) Save(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rec.Complete() {
		return storage.ErrIncompleteRecord
	}
	s.mu.Lock()
	s.rec = &rec
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.rec = nil
	s.mu.Unlock()
	return nil
}
