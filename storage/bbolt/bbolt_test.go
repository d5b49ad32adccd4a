package bbolt

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/jmcleod/tradedesk/storage"
	"github.com/jmcleod/tradedesk/storage/storetest"
	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "session.db"), nil, opts...)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
}

func TestBBoltStoreSealed(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t, WithPassphrase("hunter2"))
	})
}

func TestSealedRecordNotReadableWithoutPassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	sealed, err := Open(path, nil, WithPassphrase("hunter2"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := sealed.Save(ctx, storetest.Sample()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var raw []byte
	if err := sealed.db.View(func(tx *bbolt.Tx) error {
		raw = append(raw, tx.Bucket(bucketName).Get(recordKey)...)
		return nil
	}); err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if bytes.Contains(raw, []byte(storetest.Sample().APISessionKey)) {
		t.Error("sealed record should not contain the session key in clear text")
	}
	sealed.Close()

	plain, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer plain.Close()
	if _, err := plain.Load(ctx); err != storage.ErrEnvelopeKey {
		t.Errorf("expected ErrEnvelopeKey, got %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/path/to/db", nil); err == nil {
		t.Error("expected error for invalid path")
	}
}
