package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffLimiter locks a key out after repeated failures, doubling the
// lockout with every further failure up to a cap.
type backoffLimiter struct {
	threshold int
	base      time.Duration
	max       time.Duration
	expiry    time.Duration
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	loginMaxFailures = 5
	loginBaseLockout = 30 * time.Second
	loginMaxLockout  = 15 * time.Minute
	attemptExpiry    = 1 * time.Hour
)

// newLoginLimiter limits login attempts per client IP. Broker credential
// rejections are the only failures counted.
func newLoginLimiter() *backoffLimiter {
	return &backoffLimiter{
		threshold: loginMaxFailures,
		base:      loginBaseLockout,
		max:       loginMaxLockout,
		expiry:    attemptExpiry,
		now:       time.Now,
		attempts:  make(map[string]*attemptRecord),
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now
	if rec.failures < rl.threshold {
		return
	}
	lockout := rl.base
	for i := rl.threshold; i < rec.failures && lockout < rl.max; i++ {
		lockout *= 2
	}
	rec.lockedUntil = now.Add(min(lockout, rl.max))
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep drops records whose last failure is older than the expiry.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter locks every client out once too many failures land in a
// trailing window.
type windowLimiter struct {
	window  time.Duration
	max     int
	lockout time.Duration
	now     func() time.Time

	mu          sync.Mutex
	failures    []time.Time
	lockedUntil time.Time
}

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 30
	globalLockout     = 5 * time.Minute
)

func newGlobalLimiter() *windowLimiter {
	return &windowLimiter{
		window:  globalWindow,
		max:     globalMaxFailures,
		lockout: globalLockout,
		now:     time.Now,
	}
}

func (rl *windowLimiter) check() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	rl.failures = trimWindow(append(rl.failures, now), now, rl.window)
	if len(rl.failures) >= rl.max {
		rl.lockedUntil = now.Add(rl.lockout)
		rl.failures = rl.failures[:0]
	}
}

// writeRateLimited sends a 429 with Retry-After in whole seconds.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, KindRateLimited, "too many failed login attempts; try again later")
}

func (a *API) extractClientIP(r *http.Request) string {
	return clientIP(r, a.trustedProxies)
}

// clientIP returns the address rate limiting keys on. Forwarding headers
// count only when the direct peer is inside a trusted prefix; the first
// parsable X-Forwarded-For entry wins, then Forwarded "for=", then
// X-Real-IP.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(peer, trusted) {
		return peer
	}

	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip, ok := parseIPCandidate(part); ok {
			return ip
		}
	}
	for _, elem := range strings.Split(r.Header.Get("Forwarded"), ",") {
		for _, param := range strings.Split(elem, ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(key, "for") {
				continue
			}
			if ip, ok := parseIPCandidate(val); ok {
				return ip
			}
		}
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return peer
}

func peerTrusted(peer string, trusted []netip.Prefix) bool {
	if peer == "" || len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseIPCandidate normalises "1.2.3.4", "1.2.3.4:80", "[::1]:80" and
// quoted Forwarded values.
func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
