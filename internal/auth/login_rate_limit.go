package auth

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"employee-records/internal/observability"
)

const (
	defaultLoginMaxAttempts = 5
	defaultLoginWindow      = 300 * time.Second
	defaultLimiterMemory    = 5000
)

// LoginRateLimiter keeps a sliding window of attempt timestamps per key.
// Keys are whatever the caller submits: a claimed username or a client IP.
type LoginRateLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hits      map[string][]time.Time
	maxMemory int

	// nextSweep throttles the over-capacity sweep to once per window.
	nextSweep  time.Time
	trustProxy bool
	now        func() time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = defaultLoginMaxAttempts
	}
	if window <= 0 {
		window = defaultLoginWindow
	}

	return &LoginRateLimiter{
		maxHits:   maxHits,
		window:    window,
		hits:      make(map[string][]time.Time),
		maxMemory: defaultLimiterMemory,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the limiter's time source.
func (l *LoginRateLimiter) WithClock(now func() time.Time) *LoginRateLimiter {
	l.now = now
	return l
}

// WithTrustedProxyHeaders makes Middleware key on the first
// X-Forwarded-For address instead of the connection's peer address.
func (l *LoginRateLimiter) WithTrustedProxyHeaders(trust bool) *LoginRateLimiter {
	l.trustProxy = trust
	return l
}

// CheckAndRecord records one attempt for identity unless the window is
// already full, in which case it reports the seconds until the oldest entry
// ages out and records nothing.
func (l *LoginRateLimiter) CheckAndRecord(identity string) (bool, int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.prune(identity, now)
	if len(filtered) >= l.maxHits {
		l.hits[identity] = filtered
		retryAfter := int(math.Ceil(filtered[0].Add(l.window).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	l.hits[identity] = append(filtered, now)

	if len(l.hits) > l.maxMemory && !now.Before(l.nextSweep) {
		l.sweepLocked(now)
	}

	return true, 0
}

// Allow is CheckAndRecord reporting a denial as RateLimitError.
func (l *LoginRateLimiter) Allow(identity string) error {
	if allowed, wait := l.CheckAndRecord(identity); !allowed {
		return RateLimitError{RetryAfterSeconds: wait}
	}
	return nil
}

// Sweep drops every key whose window has fully elapsed and returns how many
// keys were removed.
func (l *LoginRateLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sweepLocked(now)
}

func (l *LoginRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Middleware limits the wrapped route per client IP.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.CheckAndRecord("ip:" + clientIP(r, l.trustProxy))
		if !allowed {
			observability.RateLimited.WithLabelValues("ip").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// prune must be called with l.mu held.
func (l *LoginRateLimiter) prune(key string, now time.Time) []time.Time {
	hits := l.hits[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if now.Sub(hit) < l.window {
			filtered = append(filtered, hit)
		}
	}
	return filtered
}

func (l *LoginRateLimiter) sweepLocked(now time.Time) int {
	l.nextSweep = now.Add(l.window)
	removed := 0
	for key, value := range l.hits {
		if len(value) == 0 || now.Sub(value[len(value)-1]) >= l.window {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}

func clientIP(r *http.Request, trustProxy bool) string {
	if xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); trustProxy && xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
