package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/storage"
	"github.com/jmcleod/tradedesk/totp"
)

// Authenticator performs the two-step broker login.
//
// BeginLogin exchanges the API token and secret for an intermediate token.
// CompleteLogin exchanges it for the session fields; an empty code means
// the request is sent without the code member at all. CompleteLogin
// returns an error matching ErrCodeParamRejected only when the remote
// refused the request shape.
type Authenticator interface {
	BeginLogin(ctx context.Context, token, secret string) (string, error)
	CompleteLogin(ctx context.Context, intermediate, code string) (json.RawMessage, error)
}

// CredentialResolver supplies credentials for a login attempt.
type CredentialResolver interface {
	Resolve() (*credentials.Credentials, error)
}

// EnsureOptions controls a single EnsureSession call.
type EnsureOptions struct {
	// PreferAutoCode generates a one-time code from the shared secret when
	// no ManualCode is given.
	PreferAutoCode bool
	// ManualCode is sent verbatim when non-empty.
	ManualCode string
	// ForceLogin skips the in-memory session and the persisted record.
	ForceLogin bool
}

// Config wires a Manager.
type Config struct {
	Store         storage.Store
	Resolver      CredentialResolver
	Authenticator Authenticator
	Fields        FieldPaths
	Now           func() time.Time
	Logger        *slog.Logger
}

// Status is a point-in-time view of the Manager for display.
type Status struct {
	State     State    `json:"state"`
	Session   *Session `json:"session,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Manager holds the single session of the process and renews it on
// demand. All methods are safe for concurrent use; logins are serialised.
type Manager struct {
	store    storage.Store
	resolver CredentialResolver
	auth     Authenticator
	fields   *fieldExtractor
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	current *Session
	lastErr error
}

// NewManager validates cfg and returns a Manager in the NoSession state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("session: credential resolver is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("session: authenticator is required")
	}
	fields, err := newFieldExtractor(cfg.Fields)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		auth:     cfg.Authenticator,
		fields:   fields,
		now:      cfg.Now,
		logger:   cfg.Logger,
		state:    NoSession,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "session")
	return m, nil
}

// EnsureSession returns an active session, reusing the in-memory one or
// the persisted record when possible and logging in otherwise.
//
// The persisted record is trusted without a round trip; an expired token
// surfaces on the first broker call and the caller is expected to retry
// with ForceLogin.
func (m *Manager) EnsureSession(ctx context.Context, opts EnsureOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !opts.ForceLogin && m.current.IsActive() {
		return m.current, nil
	}

	m.state = NoSession
	m.current = nil

	if !opts.ForceLogin {
		if sess, ok := m.fromCache(ctx); ok {
			return sess, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, m.fail(err)
		}
	}

	sess, err := m.login(ctx, opts)
	if err != nil {
		return nil, m.fail(err)
	}

	if err := m.store.Save(ctx, sess.Record()); err != nil {
		m.logger.Warn("session not persisted; continuing with in-memory session",
			slog.String("error", err.Error()))
	}

	m.current = sess
	m.state = LoggedIn
	m.lastErr = nil
	m.logger.Info("logged in",
		slog.String("uid", sess.UserID),
		slog.String("actid", sess.AccountID))
	return sess, nil
}

func (m *Manager) fromCache(ctx context.Context) (*Session, bool) {
	m.state = ValidatingCache
	rec, err := m.store.Load(ctx)
	switch {
	case err == nil:
		sess := FromRecord(rec, OriginCache, m.now())
		m.current = sess
		m.state = LoggedIn
		m.lastErr = nil
		m.logger.Debug("reusing persisted session", slog.String("uid", sess.UserID))
		return sess, true
	case errors.Is(err, storage.ErrNotFound):
		m.logger.Debug("no persisted session")
	default:
		m.logger.Warn("persisted session unreadable; treating as absent",
			slog.String("error", err.Error()))
	}
	return nil, false
}

func (m *Manager) login(ctx context.Context, opts EnsureOptions) (*Session, error) {
	m.state = LoggingIn

	creds, err := m.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	defer creds.Destroy()

	secret, err := creds.Secret()
	if err != nil {
		return nil, err
	}

	code, codeErr := m.resolveCode(creds, opts)

	body, err := m.exchange(ctx, creds.Token(), secret, code)
	if err != nil && code != "" && errors.Is(err, ErrCodeParamRejected) {
		m.logger.Warn("login endpoint does not accept a one-time code; retrying without it",
			slog.String("error", err.Error()))
		body, err = m.exchange(ctx, creds.Token(), secret, "")
	}
	if err != nil {
		le := asLoginError(err)
		if codeErr != nil {
			return nil, errors.Join(le, codeErr)
		}
		return nil, le
	}

	sess, err := m.fields.extract(ctx, body)
	if err != nil {
		return nil, err
	}
	sess.Origin = OriginLogin
	sess.EstablishedAt = m.now()
	return sess, nil
}

// exchange runs both login steps with one request shape.
func (m *Manager) exchange(ctx context.Context, token, secret, code string) (json.RawMessage, error) {
	intermediate, err := m.auth.BeginLogin(ctx, token, secret)
	if err != nil {
		return nil, err
	}
	return m.auth.CompleteLogin(ctx, intermediate, code)
}

// resolveCode picks the code to send. A generation failure is returned
// alongside an empty code so login can still be attempted without one.
func (m *Manager) resolveCode(creds *credentials.Credentials, opts EnsureOptions) (string, error) {
	if opts.ManualCode != "" {
		return opts.ManualCode, nil
	}
	if !opts.PreferAutoCode || !creds.HasSharedSecret() {
		return "", nil
	}
	shared, ok, err := creds.SharedSecret()
	if err != nil || !ok {
		return "", err
	}
	code, err := totp.Generate(shared, m.now())
	if err != nil {
		m.logger.Warn("could not generate one-time code; logging in without one",
			slog.String("error", err.Error()))
		return "", err
	}
	return code, nil
}

func asLoginError(err error) error {
	var le *LoginError
	if errors.As(err, &le) {
		return err
	}
	return &LoginError{Message: err.Error(), Err: err}
}

func (m *Manager) fail(err error) error {
	m.state = LoginFailed
	m.current = nil
	m.lastErr = err
	m.logger.Warn("login attempt failed", slog.String("error", err.Error()))
	return err
}

// Current returns the in-memory session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.IsActive() {
		return nil
	}
	return m.current
}

// State returns the current login state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns state, session and last error together.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state}
	if m.current.IsActive() {
		st.Session = m.current
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Logout forgets the in-memory session and clears the persisted record.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.state = NoSession
	m.lastErr = nil
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing persisted session: %w", err)
	}
	m.logger.Info("logged out")
	return nil
}
