package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/session"
)

// SessionStatus handles GET /auth/session. It never contacts the broker and
// issues the CSRF cookie the pages echo on mutating requests.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	ensureCSRFCookie(w, r)
	writeJSON(w, http.StatusOK, sessionResponse(a.sessions.Status(), a.autoCode, a.panel != nil))
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ip := a.extractClientIP(r)
	if !a.allowLogin(w, r, ip) {
		return
	}

	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	opts := session.EnsureOptions{
		PreferAutoCode: a.autoCode,
		ManualCode:     strings.TrimSpace(req.OTP),
		ForceLogin:     req.Force,
	}
	if req.AutoOTP != nil {
		opts.PreferAutoCode = *req.AutoOTP
	}

	sess, err := a.sessions.EnsureSession(r.Context(), opts)
	a.recordLogin(ip, err)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, err.Error(), slog.String("client_ip", ip))
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, sess.AccountID, slog.String("origin", string(sess.Origin)))

	ensureCSRFCookie(w, r)
	writeJSON(w, http.StatusOK, sessionResponse(a.sessions.Status(), a.autoCode, a.panel != nil))
}

// allowLogin checks both login limiters and writes 429 when either blocks.
func (a *API) allowLogin(w http.ResponseWriter, r *http.Request, ip string) bool {
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter)
		return false
	}
	if blocked, retryAfter := a.loginLimiter.check(ip); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited", slog.String("client_ip", ip))
		writeRateLimited(w, retryAfter)
		return false
	}
	return true
}

// recordLogin feeds an EnsureSession outcome to the limiters. Only a
// rejection by the broker counts as a failed attempt.
func (a *API) recordLogin(ip string, err error) {
	switch {
	case err == nil:
		a.loginLimiter.recordSuccess(ip)
	case errors.Is(err, session.ErrLoginFailed):
		a.loginLimiter.recordFailure(ip)
		a.globalLimiter.recordFailure()
	}
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var accountID string
	if cur := a.sessions.Current(); cur != nil {
		accountID = cur.AccountID
	}
	if err := a.sessions.Logout(r.Context()); err != nil {
		writeInternalError(w, "failed to clear the stored session", err)
		return
	}
	a.audit.logEvent(AuditLogout, r, accountID)
	writeJSON(w, http.StatusOK, sessionResponse(a.sessions.Status(), a.autoCode, a.panel != nil))
}

// PutCredentials handles PUT /auth/credentials, the interactive secrets
// panel. Values are write-only; the response lists key names.
func (a *API) PutCredentials(w http.ResponseWriter, r *http.Request) {
	if a.panel == nil {
		writeError(w, http.StatusNotFound, KindNotFound, "credential panel is disabled")
		return
	}
	req, ok := decodeJSON[CredentialsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	keys := credentials.DefaultKeys()
	set := func(names []string, value string) {
		v := strings.TrimSpace(value)
		switch {
		case v != "":
			a.panel.Set(names[0], v)
		case req.Clear:
			for _, n := range names {
				a.panel.Delete(n)
			}
		}
	}
	set(keys.Token, req.APIToken)
	set(keys.Secret, req.APISecret)
	set(keys.SharedSecret, req.TOTPSecret)

	a.audit.log(AuditCredentialsStored, r, slog.Bool("cleared", req.Clear))
	writeJSON(w, http.StatusOK, CredentialsResponse{Keys: a.panel.Keys()})
}
