// Package storetest holds the conformance suite every storage.Store
// backend runs in its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/jmcleod/tradedesk/storage"
)

// Sample returns a complete record.
func Sample() storage.Record {
	return storage.Record{
		UserID:              "DU0001",
		AccountID:           "ACC0001",
		APISessionKey:       "api-session-key",
		TransportSessionKey: "ws-session-key",
	}
}

// Run exercises s. newStore must return an empty store on each call.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, Sample()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got != Sample() {
			t.Errorf("expected %+v, got %+v", Sample(), got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, Sample()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		next := storage.Record{UserID: "u2", AccountID: "a2", APISessionKey: "k2", TransportSessionKey: "w2"}
		if err := s.Save(ctx, next); err != nil {
			t.Fatalf("second Save failed: %v", err)
		}
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got != next {
			t.Errorf("expected %+v, got %+v", next, got)
		}
	})

	t.Run("SaveIncompleteRejected", func(t *testing.T) {
		s := newStore(t)
		partial := Sample()
		partial.APISessionKey = ""
		if err := s.Save(ctx, partial); !errors.Is(err, storage.ErrIncompleteRecord) {
			t.Fatalf("expected ErrIncompleteRecord, got %v", err)
		}
		if _, err := s.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after rejected save, got %v", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, Sample()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if _, err := s.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after Clear, got %v", err)
		}
	})

	t.Run("ClearEmpty", func(t *testing.T) {
		s := newStore(t)
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear on empty store failed: %v", err)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := s.Save(cctx, Sample()); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
