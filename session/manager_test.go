package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/storage"
	"github.com/jmcleod/tradedesk/storage/dotenv"
	"github.com/jmcleod/tradedesk/storage/memory"
	"github.com/jmcleod/tradedesk/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedSecret = "JBSWY3DPEHPK3PXP"

var fixedNow = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

const okBody = `{"uid":"DU0001","actid":"ACC0001","api_session_key":"api-key","susertoken":"ws-key","stat":"Ok"}`

type fakeAuth struct {
	mu       sync.Mutex
	begins   int
	codes    []string
	beginErr error
	complete func(call int, code string) (json.RawMessage, error)
}

func (f *fakeAuth) BeginLogin(_ context.Context, token, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	if f.beginErr != nil {
		return "", f.beginErr
	}
	if token != "abc" || secret != "xyz" {
		return "", &LoginError{StatusCode: 401, Message: "invalid api token"}
	}
	return "otp-token", nil
}

func (f *fakeAuth) CompleteLogin(_ context.Context, intermediate, code string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	if intermediate != "otp-token" {
		return nil, &LoginError{StatusCode: 400, Message: "bad otp_token"}
	}
	if f.complete != nil {
		return f.complete(len(f.codes), code)
	}
	return json.RawMessage(okBody), nil
}

func (f *fakeAuth) calls() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, append([]string(nil), f.codes...)
}

func resolver(values map[string]string) *credentials.Resolver {
	return credentials.NewResolver(credentials.Config{Env: credentials.NewMapSource("env", values)})
}

func baseEnv() map[string]string {
	return map[string]string{"INTEGRATE_API_TOKEN": "abc", "INTEGRATE_API_SECRET": "xyz"}
}

func withShared(secret string) map[string]string {
	env := baseEnv()
	env["TOTP_SECRET"] = secret
	return env
}

func newManager(t *testing.T, store storage.Store, env map[string]string, auth Authenticator) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Store:         store,
		Resolver:      resolver(env),
		Authenticator: auth,
		Now:           func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return m
}

func TestEnsureSessionLogsInFromEnvironment(t *testing.T) {
	store := memory.New()
	auth := &fakeAuth{}
	m := newManager(t, store, baseEnv(), auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true})
	require.NoError(t, err)
	assert.True(t, sess.IsActive())
	assert.Equal(t, OriginLogin, sess.Origin)
	assert.Equal(t, LoggedIn, m.State())

	begins, codes := auth.calls()
	assert.Equal(t, 1, begins)
	assert.Equal(t, []string{""}, codes, "no shared secret means no code is sent")

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Record{UserID: "DU0001", AccountID: "ACC0001", APISessionKey: "api-key", TransportSessionKey: "ws-key"}, rec)
}

func TestEnsureSessionReusesPersistedRecord(t *testing.T) {
	store := memory.New()
	stored := storage.Record{UserID: "u", AccountID: "a", APISessionKey: "k", TransportSessionKey: "w"}
	require.NoError(t, store.Save(context.Background(), stored))
	auth := &fakeAuth{}
	m := newManager(t, store, nil, auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true})
	require.NoError(t, err)
	assert.Equal(t, stored, sess.Record())
	assert.Equal(t, OriginCache, sess.Origin)

	begins, codes := auth.calls()
	assert.Zero(t, begins)
	assert.Empty(t, codes)
}

func TestEnsureSessionPartialRecordFallsThroughToLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INTEGRATE_UID=old\nINTEGRATE_ACTID=old\n"), 0o600))
	store := dotenv.New(path)
	auth := &fakeAuth{}
	m := newManager(t, store, baseEnv(), auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, "DU0001", sess.UserID)

	begins, _ := auth.calls()
	assert.Equal(t, 1, begins)
}

func TestEnsureSessionRejectedCodeIsNotRetried(t *testing.T) {
	store := memory.New()
	previous := storage.Record{UserID: "u", AccountID: "a", APISessionKey: "old", TransportSessionKey: "old"}
	require.NoError(t, store.Save(context.Background(), previous))

	auth := &fakeAuth{complete: func(int, string) (json.RawMessage, error) {
		return nil, &LoginError{StatusCode: 401, Message: "Invalid TOTP"}
	}}
	m := newManager(t, store, withShared(sharedSecret), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true, ForceLogin: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "Invalid TOTP")
	assert.Equal(t, LoginFailed, m.State())
	assert.Nil(t, m.Current())

	expected, genErr := totp.Generate(sharedSecret, fixedNow)
	require.NoError(t, genErr)
	_, codes := auth.calls()
	assert.Equal(t, []string{expected}, codes)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, previous, rec, "failed login must not touch the store")
}

func TestEnsureSessionRetriesWithoutCodeOnShapeRejection(t *testing.T) {
	auth := &fakeAuth{complete: func(call int, code string) (json.RawMessage, error) {
		if code != "" {
			return nil, &LoginError{StatusCode: 400, Message: "unknown parameter otp", Err: ErrCodeParamRejected}
		}
		return json.RawMessage(okBody), nil
	}}
	m := newManager(t, memory.New(), withShared(sharedSecret), auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true})
	require.NoError(t, err)
	assert.True(t, sess.IsActive())

	begins, codes := auth.calls()
	assert.Equal(t, 2, begins)
	require.Len(t, codes, 2)
	assert.NotEmpty(t, codes[0])
	assert.Empty(t, codes[1])
}

func TestEnsureSessionShapeRejectionWithoutCodeFails(t *testing.T) {
	auth := &fakeAuth{complete: func(int, string) (json.RawMessage, error) {
		return nil, &LoginError{StatusCode: 400, Message: "unknown parameter", Err: ErrCodeParamRejected}
	}}
	m := newManager(t, memory.New(), baseEnv(), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{})
	assert.ErrorIs(t, err, ErrLoginFailed)
	_, codes := auth.calls()
	assert.Len(t, codes, 1)
}

func TestEnsureSessionManualCodeVerbatim(t *testing.T) {
	auth := &fakeAuth{}
	m := newManager(t, memory.New(), withShared(sharedSecret), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true, ManualCode: "012345"})
	require.NoError(t, err)
	_, codes := auth.calls()
	assert.Equal(t, []string{"012345"}, codes)
}

func TestEnsureSessionAutoCodeDisabled(t *testing.T) {
	auth := &fakeAuth{}
	m := newManager(t, memory.New(), withShared(sharedSecret), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: false})
	require.NoError(t, err)
	_, codes := auth.calls()
	assert.Equal(t, []string{""}, codes)
}

func TestEnsureSessionMalformedSharedSecret(t *testing.T) {
	t.Run("login without code succeeds", func(t *testing.T) {
		auth := &fakeAuth{}
		m := newManager(t, memory.New(), withShared("not base32 !!"), auth)

		sess, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true})
		require.NoError(t, err)
		assert.True(t, sess.IsActive())
		_, codes := auth.calls()
		assert.Equal(t, []string{""}, codes)
	})

	t.Run("login without code fails", func(t *testing.T) {
		auth := &fakeAuth{complete: func(int, string) (json.RawMessage, error) {
			return nil, &LoginError{StatusCode: 401, Message: "second factor required"}
		}}
		m := newManager(t, memory.New(), withShared("not base32 !!"), auth)

		_, err := m.EnsureSession(context.Background(), EnsureOptions{PreferAutoCode: true})
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.ErrorIs(t, err, totp.ErrCodeGeneration)
	})
}

func TestEnsureSessionMalformedResponse(t *testing.T) {
	store := memory.New()
	auth := &fakeAuth{complete: func(int, string) (json.RawMessage, error) {
		return json.RawMessage(`{"uid":"DU0001","actid":"ACC0001","api_session_key":"api-key"}`), nil
	}}
	m := newManager(t, store, baseEnv(), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{})
	assert.ErrorIs(t, err, ErrMalformedLoginResponse)
	assert.NotErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, LoginFailed, m.State())

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnsureSessionCredentialsMissing(t *testing.T) {
	auth := &fakeAuth{}
	m := newManager(t, memory.New(), nil, auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{})
	assert.ErrorIs(t, err, credentials.ErrCredentialsMissing)
	begins, _ := auth.calls()
	assert.Zero(t, begins)
	assert.Contains(t, m.Status().LastError, "credentials missing")
}

func TestEnsureSessionBeginLoginTransportError(t *testing.T) {
	auth := &fakeAuth{beginErr: context.DeadlineExceeded}
	m := newManager(t, memory.New(), baseEnv(), auth)

	_, err := m.EnsureSession(context.Background(), EnsureOptions{})
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingSaveStore struct{ *memory.Store }

func (failingSaveStore) Save(context.Context, storage.Record) error {
	return errors.New("disk full")
}

func TestEnsureSessionPersistFailureIsNotFatal(t *testing.T) {
	auth := &fakeAuth{}
	m := newManager(t, failingSaveStore{memory.New()}, baseEnv(), auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.True(t, sess.IsActive())
	assert.Equal(t, sess, m.Current())

	// The in-memory session is reused for the rest of the process.
	again, err := m.EnsureSession(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Same(t, sess, again)
	begins, _ := auth.calls()
	assert.Equal(t, 1, begins)
}

func TestEnsureSessionForceLoginBypassesCache(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Save(context.Background(), storage.Record{UserID: "u", AccountID: "a", APISessionKey: "k", TransportSessionKey: "w"}))
	auth := &fakeAuth{}
	m := newManager(t, store, baseEnv(), auth)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{ForceLogin: true})
	require.NoError(t, err)
	assert.Equal(t, "api-key", sess.APISessionKey)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "api-key", rec.APISessionKey)
}

func TestLogout(t *testing.T) {
	store := memory.New()
	m := newManager(t, store, baseEnv(), &fakeAuth{})

	_, err := m.EnsureSession(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background()))

	assert.Nil(t, m.Current())
	assert.Equal(t, NoSession, m.State())
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCustomFieldPaths(t *testing.T) {
	auth := &fakeAuth{complete: func(int, string) (json.RawMessage, error) {
		return json.RawMessage(`{"data":{"uid":1234,"actid":"A","keys":{"api":"k1","ws":"k2"}}}`), nil
	}}
	m, err := NewManager(Config{
		Store:         memory.New(),
		Resolver:      resolver(baseEnv()),
		Authenticator: auth,
		Fields: FieldPaths{
			UserID:              "$.data.uid",
			AccountID:           "$.data.actid",
			APISessionKey:       "$.data.keys.api",
			TransportSessionKey: "$.data.keys.ws",
		},
	})
	require.NoError(t, err)

	sess, err := m.EnsureSession(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1234", sess.UserID)
	assert.Equal(t, "k2", sess.TransportSessionKey)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)

	_, err = NewManager(Config{
		Store:         memory.New(),
		Resolver:      resolver(nil),
		Authenticator: &fakeAuth{},
		Fields:        FieldPaths{UserID: "$["},
	})
	assert.Error(t, err)
}

func TestLoginErrorMessage(t *testing.T) {
	err := &LoginError{StatusCode: 401, Message: "Invalid TOTP"}
	assert.Equal(t, "login failed (status 401): Invalid TOTP", err.Error())
	assert.ErrorIs(t, err, ErrLoginFailed)
}
