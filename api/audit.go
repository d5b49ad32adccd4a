package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/tradedesk/internal/uuid"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginRateLimited  AuditEvent = "login_rate_limited"
	AuditLogout            AuditEvent = "logout"
	AuditCredentialsStored AuditEvent = "credentials_stored"
	AuditOrderPlaced       AuditEvent = "order_placed"
	AuditOrderCancelled    AuditEvent = "order_cancelled"
	AuditGTTPlaced         AuditEvent = "gtt_placed"
	AuditGTTCancelled      AuditEvent = "gtt_cancelled"
)

// auditLogger writes audit entries to slog and, when configured, feeds the
// alert collector and the webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	if al == nil {
		return
	}
	now := time.Now().UTC()
	entry := append([]slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
	}, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", entry...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			ID:         uuid.New(),
			Event:      string(event),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now.Format(time.RFC3339),
		}
		for _, a := range attrs {
			if a.Key == "account_id" {
				evt.AccountID = a.Value.String()
				continue
			}
			if evt.Attrs == nil {
				evt.Attrs = map[string]string{}
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
		al.webhook.enqueue(evt)
	}
}

// logEvent records an action taken on the broker account.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("account_id", accountID)}, extra...)...)
}

// logFailure records a refused or failed action.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
