package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/tradedesk/broker"
	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/session"
)

// API holds the dependencies needed by the dashboard handlers.
type API struct {
	sessions *session.Manager
	broker   *broker.Client
	panel    *credentials.MapSource
	autoCode bool

	loginLimiter   *backoffLimiter
	globalLimiter  *windowLimiter
	trustedProxies []netip.Prefix

	logger     *slog.Logger
	audit      *auditLogger
	alertFn    AlertFunc
	webhookURL string
	webhookHdr string
	webhook    *auditWebhook

	stop      chan struct{}
	closeOnce sync.Once
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAutoCode makes broker routes and logins without an explicit choice
// generate the one-time code from the shared secret.
func WithAutoCode(enabled bool) Option {
	return func(a *API) { a.autoCode = enabled }
}

// WithCredentialPanel exposes PUT /auth/credentials, writing into the
// interactive source the credential resolver consults first.
func WithCredentialPanel(panel *credentials.MapSource) Option {
	return func(a *API) { a.panel = panel }
}

// WithTrustedProxies lists the CIDR ranges whose forwarding headers are
// honoured when identifying a client for rate limiting.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithAuditWebhook forwards every audit event to url. authHeader has the
// form "Header: value" and may be empty.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHdr = authHeader
	}
}

// WithAlertHandler receives login failure spikes and order bursts.
func WithAlertHandler(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// New creates a new API instance. Close stops its background work.
func New(sessions *session.Manager, client *broker.Client, opts ...Option) *API {
	a := &API{
		sessions:      sessions,
		broker:        client,
		loginLimiter:  newLoginLimiter(),
		globalLimiter: newGlobalLimiter(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.webhook = newAuditWebhook(a.webhookURL, a.webhookHdr, a.logger)
		a.audit.webhook = a.webhook
	}
	go a.sweepLoop(10 * time.Minute)
	return a
}

// Close stops the limiter sweeper and drains the audit webhook.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		if a.webhook != nil {
			a.webhook.close()
		}
	})
}

func (a *API) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-t.C:
			a.loginLimiter.sweep()
		}
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(a.CSRFMiddleware)

		r.Get("/auth/session", a.SessionStatus)
		r.Post("/auth/login", a.Login)
		r.Post("/auth/logout", a.Logout)
		r.Put("/auth/credentials", a.PutCredentials)

		r.Get("/symbols", a.SearchSymbols)

		// Everything below talks to the broker and needs a session.
		r.Group(func(r chi.Router) {
			r.Use(a.RequireSession)

			r.Get("/orders", a.ListOrders)
			r.Post("/orders", a.PlaceOrder)
			r.Get("/orders/{orderID}", a.GetOrder)
			r.Delete("/orders/{orderID}", a.CancelOrder)
			r.Get("/trades", a.ListTrades)

			r.Get("/gtt", a.ListGTT)
			r.Post("/gtt", a.PlaceGTT)
			r.Delete("/gtt/{alertID}", a.CancelGTT)

			r.Get("/portfolio/holdings", a.Holdings)
			r.Get("/portfolio/positions", a.Positions)
			r.Get("/portfolio/limits", a.Limits)

			r.Get("/quotes/{exchange}/{symbol}", a.GetQuote)
			r.Get("/securityinfo/{exchange}/{symbol}", a.GetSecurityInfo)
			r.Get("/history/{exchange}/{symbol}", a.GetHistory)
		})
	})

	return r
}
