package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertOrderBurst        AlertType = "order_burst"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events inside a trailing window.
type slidingCounter struct {
	kind      AlertType
	message   string
	window    time.Duration
	threshold int
	hits      []time.Time
}

// add records one event at now and reports whether the threshold was
// reached. Reaching it empties the window so one spike alerts once.
func (c *slidingCounter) add(now time.Time) (AlertEvent, bool) {
	c.hits = trimWindow(append(c.hits, now), now, c.window)
	if len(c.hits) < c.threshold {
		return AlertEvent{}, false
	}
	evt := AlertEvent{
		Type:      c.kind,
		Message:   c.message,
		Count:     len(c.hits),
		Threshold: c.threshold,
		Timestamp: now,
	}
	c.hits = c.hits[:0]
	return evt, true
}

// metricsCollector turns audit events into alerts.
type metricsCollector struct {
	mu sync.Mutex
	now func() time.Time

	loginFailures slidingCounter
	orders        slidingCounter

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 5 * time.Minute
	defaultLoginFailureThreshold = 10
	defaultOrderWindow           = 1 * time.Minute
	defaultOrderThreshold        = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now: time.Now,
		loginFailures: slidingCounter{
			kind:      AlertLoginFailureSpike,
			message:   "login failure rate exceeds threshold",
			window:    defaultLoginFailureWindow,
			threshold: defaultLoginFailureThreshold,
		},
		orders: slidingCounter{
			kind:      AlertOrderBurst,
			message:   "order placement rate exceeds threshold",
			window:    defaultOrderWindow,
			threshold: defaultOrderThreshold,
		},
		alertFn: alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counter.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	var c *slidingCounter
	switch event {
	case AuditLoginFailure:
		c = &m.loginFailures
	case AuditOrderPlaced, AuditGTTPlaced:
		c = &m.orders
	default:
		return
	}

	m.mu.Lock()
	evt, fire := c.add(m.now())
	m.mu.Unlock()
	if fire {
		m.alertFn(evt)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
