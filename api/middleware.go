package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/tradedesk/session"
)

type contextKey int

const sessionKey contextKey = iota

// RequireSession ensures a broker session before the handler runs and
// stores it on the request context. A held or cached session is reused
// without a network call; otherwise a login runs with the configured
// auto-code preference, under the same limits as POST /auth/login.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := a.sessions.Current()
		if !sess.IsActive() {
			ip := a.extractClientIP(r)
			if !a.allowLogin(w, r, ip) {
				return
			}
			var err error
			sess, err = a.sessions.EnsureSession(r.Context(), session.EnsureOptions{PreferAutoCode: a.autoCode})
			a.recordLogin(ip, err)
			if err != nil {
				a.audit.logFailure(AuditLoginFailure, r, err.Error(), slog.String("trigger", "implicit"))
				mapError(w, err)
				return
			}
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey).(*session.Session)
	return sess
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
