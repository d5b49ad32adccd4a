// Package bbolt provides a BBolt-backed storage.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/tradedesk/internal/util"
	"github.com/jmcleod/tradedesk/storage"
	"go.etcd.io/bbolt"
)

var (
	bucketName = []byte("session")
	recordKey  = []byte("current")
)

// Store keeps the session record as a JSON storage.Envelope under a single
// key. Each Save is one bbolt transaction, so readers never observe a
// half-written record.
type Store struct {
	db         *bbolt.DB
	passphrase []byte
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPassphrase seals the envelope with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// New returns a Store backed by the given BBolt database.
func New(db *bbolt.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a BBolt database at path and returns a Store over it.
func Open(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db, opts...), nil
}

// Close wipes the passphrase and closes the underlying database.
func (s *Store) Close() error {
	util.WipeBytes(s.passphrase)
	return s.db.Close()
}

func aad() []byte {
	return append(append([]byte{}, bucketName...), recordKey...)
}

func (s *Store) Load(ctx context.Context) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	var env storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get(recordKey)
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return storage.Record{}, err
	}
	rec, err := storage.OpenRecord(s.passphrase, &env, aad())
	if err != nil {
		return storage.Record{}, err
	}
	if !rec.Complete() {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rec.Complete() {
		return storage.ErrIncompleteRecord
	}
	env, err := storage.SealRecord(s.passphrase, rec, aad())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(recordKey, data)
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Delete(recordKey)
	})
}
