package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client; defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting. Gateway webhooks are exempted so
	// a throttled delivery never turns into a redelivery storm.
	Skip func(*http.Request) bool
}

type window struct {
	start time.Time
	count int
}

type limiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*window
}

// take counts one request for key and reports whether it fits the window.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.clients[key]
	if !found || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.clients[key] = w
	}
	reset = w.start.Add(l.window)
	if w.count >= l.max {
		return 0, reset, false
	}
	w.count++
	return l.max - w.count, reset, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= l.window {
			delete(l.clients, key)
		}
	}
}

// RateLimit limits each client to cfg.Max requests per cfg.Window and
// answers 429 beyond that. Expired windows are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := &limiter{max: cfg.Max, window: cfg.Window, clients: make(map[string]*window)}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = clientIP
	}

	go func() {
		t := time.NewTicker(cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			remaining, reset, ok := l.take(keyFunc(r), now)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				retry := int(reset.Sub(now).Round(time.Second) / time.Second)
				h.Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
