package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize = 1024
	webhookAttempts  = 2
)

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	AccountID  string            `json:"account_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook delivers audit events from a bounded queue on one
// goroutine. A full queue drops events.
type auditWebhook struct {
	url        string
	headerName string
	headerVal  string
	client     *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
	events     chan webhookEvent
	wg         sync.WaitGroup
}

func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &auditWebhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
		logger:     logger.With("component", "audit-webhook"),
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	if name, val, ok := strings.Cut(authHeader, ":"); ok {
		w.headerName, w.headerVal = strings.TrimSpace(name), strings.TrimSpace(val)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits for the queue to drain.
func (w *auditWebhook) close() {
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.deliver(evt)
	}
}

// deliver POSTs one event, retrying once on a transport error or 5xx.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "tradedesk-audit-webhook/1.0")
		if w.headerName != "" {
			req.Header.Set(w.headerName, w.headerVal)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt)
		default:
			w.logger.Warn("event refused", "status", resp.StatusCode)
			return
		}
	}
}
