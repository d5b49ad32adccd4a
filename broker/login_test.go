package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmcleod/tradedesk/broker/brokertest"
	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/session"
	"github.com/jmcleod/tradedesk/storage"
	"github.com/jmcleod/tradedesk/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRejection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   rejection
	}{
		{"unknown parameter code", 400, `{"code":"UNKNOWN_PARAMETER","message":"bad request"}`, rejectedShape},
		{"unsupported parameter in error", 422, `{"error":"unsupported_parameter"}`, rejectedShape},
		{"message names otp as unexpected", 400, `{"message":"unexpected field: otp"}`, rejectedShape},
		{"plain text", 400, `parameter otp is not allowed here`, rejectedShape},
		{"otp parameter unsupported", 422, `{"detail":"otp parameter not supported by this API version"}`, rejectedShape},
		{"invalid code", 400, `{"message":"Invalid OTP"}`, rejectedCredentials},
		{"expired code", 400, `{"message":"OTP expired"}`, rejectedCredentials},
		{"unknown code", 400, `{"message":"Unknown OTP"}`, rejectedCredentials},
		{"expired or unknown code", 400, `{"message":"OTP expired or unknown"}`, rejectedCredentials},
		{"code not allowed", 400, `{"message":"Invalid OTP, not allowed"}`, rejectedCredentials},
		{"unrecognized code value", 422, `{"message":"Unrecognized OTP value"}`, rejectedCredentials},
		{"bare otp text", 400, `otp is not allowed here`, rejectedCredentials},
		{"unauthorized never shape", 401, `{"code":"UNKNOWN_PARAMETER"}`, rejectedCredentials},
		{"server error", 500, `unknown parameter otp`, rejectedCredentials},
		{"empty", 400, ``, rejectedCredentials},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyRejection(tc.status, []byte(tc.body)))
		})
	}
}

func TestRemoteMessage(t *testing.T) {
	assert.Equal(t, "Invalid OTP", remoteMessage([]byte(`{"message":"Invalid OTP"}`)))
	assert.Equal(t, "bad creds", remoteMessage([]byte(`{"error":"x","error_description":"bad creds"}`)))
	assert.Equal(t, "gateway down", remoteMessage([]byte("gateway down\n")))
	assert.Equal(t, "empty response", remoteMessage(nil))
}

func TestBeginLoginRejectsBadCredentials(t *testing.T) {
	_, c, _ := newSandbox(t, brokertest.Options{})

	_, err := c.BeginLogin(context.Background(), "abc", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrLoginFailed)
	var le *session.LoginError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, http.StatusUnauthorized, le.StatusCode)
	assert.Equal(t, "Invalid API token or secret", le.Message)
}

func TestCompleteLoginOmitsCodeMember(t *testing.T) {
	srv, c, _ := newSandbox(t, brokertest.Options{})

	tok, err := c.BeginLogin(context.Background(), "abc", "xyz")
	require.NoError(t, err)
	_, err = c.CompleteLogin(context.Background(), tok, "")
	require.NoError(t, err)

	attempts := srv.LoginAttempts()
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].HadCode)
}

func TestCompleteLoginMarksShapeRejection(t *testing.T) {
	_, c, _ := newSandbox(t, brokertest.Options{RejectCodeParam: true})

	tok, err := c.BeginLogin(context.Background(), "abc", "xyz")
	require.NoError(t, err)
	_, err = c.CompleteLogin(context.Background(), tok, "123456")
	assert.ErrorIs(t, err, session.ErrCodeParamRejected)
	assert.ErrorIs(t, err, session.ErrLoginFailed)
}

// managerFor wires a session.Manager to the sandbox the way the server
// command does.
func managerFor(t *testing.T, c *Client, store storage.Store, env map[string]string) *session.Manager {
	t.Helper()
	m, err := session.NewManager(session.Config{
		Store:         store,
		Resolver:      credentials.NewResolver(credentials.Config{Env: credentials.NewMapSource("env", env)}),
		Authenticator: c,
	})
	require.NoError(t, err)
	return m
}

func TestLoginAgainstSandbox(t *testing.T) {
	const shared = "JBSWY3DPEHPK3PXP"
	creds := map[string]string{"INTEGRATE_API_TOKEN": "abc", "INTEGRATE_API_SECRET": "xyz", "TOTP_SECRET": shared}

	t.Run("generated code accepted", func(t *testing.T) {
		srv, c, _ := newSandbox(t, brokertest.Options{SharedSecret: shared, RequireCode: true})
		store := memory.New()
		m := managerFor(t, c, store, creds)

		sess, err := m.EnsureSession(context.Background(), session.EnsureOptions{PreferAutoCode: true})
		require.NoError(t, err)
		assert.Equal(t, "DU0001", sess.UserID)

		attempts := srv.LoginAttempts()
		require.Len(t, attempts, 1)
		assert.True(t, attempts[0].HadCode)

		_, err = c.Orders(context.Background(), sess)
		assert.NoError(t, err)
	})

	t.Run("wrong manual code is not retried", func(t *testing.T) {
		srv, c, _ := newSandbox(t, brokertest.Options{SharedSecret: shared, RequireCode: true})
		store := memory.New()
		m := managerFor(t, c, store, creds)

		_, err := m.EnsureSession(context.Background(), session.EnsureOptions{ManualCode: "000000"})
		require.ErrorIs(t, err, session.ErrLoginFailed)
		assert.Contains(t, err.Error(), "Invalid OTP")
		assert.Len(t, srv.LoginAttempts(), 1)

		_, err = store.Load(context.Background())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("code parameter refused falls back", func(t *testing.T) {
		srv, c, _ := newSandbox(t, brokertest.Options{RejectCodeParam: true})
		m := managerFor(t, c, memory.New(), creds)

		sess, err := m.EnsureSession(context.Background(), session.EnsureOptions{PreferAutoCode: true})
		require.NoError(t, err)
		assert.True(t, sess.IsActive())

		attempts := srv.LoginAttempts()
		require.Len(t, attempts, 2)
		assert.True(t, attempts[0].HadCode)
		assert.False(t, attempts[1].HadCode)
	})

	t.Run("response without transport key", func(t *testing.T) {
		_, c, _ := newSandbox(t, brokertest.Options{OmitTransportKey: true})
		m := managerFor(t, c, memory.New(), creds)

		_, err := m.EnsureSession(context.Background(), session.EnsureOptions{})
		assert.ErrorIs(t, err, session.ErrMalformedLoginResponse)
	})

	t.Run("code from the previous window still verifies", func(t *testing.T) {
		now := time.Now()
		srv, c, _ := newSandbox(t, brokertest.Options{SharedSecret: shared, RequireCode: true, Now: func() time.Time { return now.Add(30 * time.Second) }})
		m := managerFor(t, c, memory.New(), creds)

		_, err := m.EnsureSession(context.Background(), session.EnsureOptions{PreferAutoCode: true})
		require.NoError(t, err)
		assert.Len(t, srv.LoginAttempts(), 1)
	})
}

func TestRejectedCodeValueIsNotRetried(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"otp_token":"tok-1"}`))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		payloads = append(payloads, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Unknown OTP"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := New(Config{AuthURL: ts.URL, APIURL: ts.URL, DataURL: ts.URL})
	require.NoError(t, err)
	m := managerFor(t, c, memory.New(), map[string]string{"INTEGRATE_API_TOKEN": "abc", "INTEGRATE_API_SECRET": "xyz"})

	_, err = m.EnsureSession(context.Background(), session.EnsureOptions{ManualCode: "123456"})
	require.ErrorIs(t, err, session.ErrLoginFailed)
	assert.NotErrorIs(t, err, session.ErrCodeParamRejected)
	assert.Contains(t, err.Error(), "Unknown OTP")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 1, "exactly one token exchange")
	assert.Equal(t, "123456", payloads[0]["otp"])
}
