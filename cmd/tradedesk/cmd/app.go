package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/tradedesk/broker"
	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/internal/config"
	"github.com/jmcleod/tradedesk/session"
	"github.com/jmcleod/tradedesk/storage"
	bboltstorage "github.com/jmcleod/tradedesk/storage/bbolt"
	"github.com/jmcleod/tradedesk/storage/dotenv"
	"github.com/jmcleod/tradedesk/storage/memory"
)

// app is the object graph shared by every subcommand.
type app struct {
	store    storage.Store
	panel    *credentials.MapSource
	resolver *credentials.Resolver
	client   *broker.Client
	sessions *session.Manager

	closers []func() error
}

func newApp(c config.Config) (*app, error) {
	a := &app{}
	store, err := a.openStore(c.Session)
	if err != nil {
		return nil, err
	}
	a.store = store

	interactive := c.Credentials.Interactive || c.Credentials.Panel
	switch {
	case c.Credentials.SecretsFile != "":
		a.panel, err = credentials.LoadFile(c.Credentials.SecretsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
	case interactive:
		a.panel = credentials.NewMapSource("panel", nil)
	}
	a.resolver = credentials.NewResolver(credentials.Config{
		InteractiveEnabled: interactive,
		Interactive:        a.panel,
		Logger:             logger,
	})

	symbols := broker.NewMaster(nil)
	if c.Broker.SymbolsFile != "" {
		if symbols, err = broker.LoadMaster(c.Broker.SymbolsFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.client, err = broker.New(broker.Config{
		APIURL:  c.Broker.APIURL,
		DataURL: c.Broker.DataURL,
		AuthURL: c.Broker.AuthURL,
		Timeout: c.Broker.Timeout,
		Symbols: symbols,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions, err = session.NewManager(session.Config{
		Store:         a.store,
		Resolver:      a.resolver,
		Authenticator: a.client,
		Fields: session.FieldPaths{
			UserID:              c.Session.Fields.UserID,
			AccountID:           c.Session.Fields.AccountID,
			APISessionKey:       c.Session.Fields.APISessionKey,
			TransportSessionKey: c.Session.Fields.TransportSessionKey,
		},
		Logger: logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(c config.SessionConfig) (storage.Store, error) {
	switch c.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreBbolt:
		if err := os.MkdirAll(filepath.Dir(c.BoltPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		var opts []bboltstorage.Option
		if c.Passphrase != "" {
			opts = append(opts, bboltstorage.WithPassphrase(c.Passphrase))
		}
		s, err := bboltstorage.Open(c.BoltPath, nil, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return dotenv.New(c.EnvFile), nil
	}
}

// Close releases the store.
func (a *app) Close() error {
	var errs []error
	for _, fn := range a.closers {
		errs = append(errs, fn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// session returns an active session, logging in when needed with the
// configured one-time code preference.
func (a *app) session(ctx context.Context) (*session.Session, error) {
	return a.sessions.EnsureSession(ctx, session.EnsureOptions{PreferAutoCode: cfg.Session.AutoOTP})
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
