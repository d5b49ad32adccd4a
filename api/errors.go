package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/tradedesk/broker"
	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/session"
	"github.com/jmcleod/tradedesk/totp"
)

// Error kinds reported in ErrorResponse.Kind.
const (
	KindCredentialsMissing     = "CredentialsMissing"
	KindCodeGeneration         = "CodeGenerationError"
	KindLoginFailed            = "LoginFailed"
	KindMalformedLoginResponse = "MalformedLoginResponse"
	KindNotLoggedIn            = "NotLoggedIn"
	KindAPICallFailed          = "ApiCallFailed"
	KindInvalidRequest         = "InvalidRequest"
	KindOrderRejected          = "OrderRejected"
	KindUnknownSymbol          = "UnknownSymbol"
	KindTimeout                = "Timeout"
	KindRateLimited            = "RateLimited"
	KindForbidden              = "Forbidden"
	KindNotFound               = "NotFound"
	KindInternal               = "Internal"
)

const (
	maxAuthBodySize  = 4 << 10
	maxOrderBodySize = 16 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders a one-line "<kind>: <detail>" message.
func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{Error: kind + ": " + oneLine(detail), Kind: kind})
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", "; ")
	return strings.ReplaceAll(s, "\n", "; ")
}

// classify maps an error to its HTTP status, kind and user-facing detail.
// Login failures are checked before code generation failures because a
// failed login without a code carries both.
func classify(err error) (int, string, string) {
	var le *session.LoginError
	var ae *broker.APIError
	switch {
	case errors.Is(err, credentials.ErrCredentialsMissing):
		return http.StatusPreconditionFailed, KindCredentialsMissing, err.Error()
	case errors.As(err, &le):
		detail := le.Message
		if detail == "" {
			detail = le.Error()
		}
		if errors.Is(err, totp.ErrCodeGeneration) {
			detail += " (one-time code could not be generated)"
		}
		return http.StatusUnauthorized, KindLoginFailed, detail
	case errors.Is(err, session.ErrLoginFailed):
		return http.StatusUnauthorized, KindLoginFailed, err.Error()
	case errors.Is(err, totp.ErrCodeGeneration):
		return http.StatusBadRequest, KindCodeGeneration, err.Error()
	case errors.Is(err, session.ErrMalformedLoginResponse):
		return http.StatusBadGateway, KindMalformedLoginResponse, err.Error()
	case errors.Is(err, broker.ErrNotLoggedIn):
		return http.StatusUnauthorized, KindNotLoggedIn, "log in first"
	case errors.As(err, &ae):
		return http.StatusBadGateway, KindAPICallFailed, fmt.Sprintf("%s %s returned %d: %s", ae.Method, ae.Path, ae.StatusCode, ae.Body)
	case errors.Is(err, broker.ErrOrderRejected):
		return http.StatusUnprocessableEntity, KindOrderRejected, err.Error()
	case errors.Is(err, broker.ErrInvalidOrder), errors.Is(err, broker.ErrInvalidRequest):
		return http.StatusBadRequest, KindInvalidRequest, err.Error()
	case errors.Is(err, broker.ErrUnknownSymbol):
		return http.StatusNotFound, KindUnknownSymbol, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout, err.Error()
	default:
		return http.StatusInternalServerError, KindInternal, err.Error()
	}
}

func mapError(w http.ResponseWriter, err error) {
	status, kind, detail := classify(err)
	writeError(w, status, kind, detail)
}

// writeInternalError logs err and hides it from the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, KindInternal, msg)
}

// decodeJSON reads a size-limited JSON body into T. On failure it writes a
// 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid request body: "+err.Error())
		return v, false
	}
	return v, true
}
