package shell

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = time.Minute
	limiterIdleTimeout     = 5 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps        float64
	burst      int
	trustProxy bool
	logger     *slog.Logger
}

// NewRateLimiter allows rps requests per second with the given burst per client.
// A non-positive rps disables limiting. Clients are told apart by the remote address; the
// X-Forwarded-For header is only honoured with trustProxy.
func NewRateLimiter(rps float64, burst int, trustProxy bool, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		clients:    make(map[string]*client),
		rps:        rps,
		burst:      max(burst, 1),
		trustProxy: trustProxy,
		logger:     logger,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l.rps <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)

		l.mu.Lock()
		c, ok := l.clients[ip]
		if !ok {
			c = &client{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
			l.clients[ip] = c
		}
		c.lastSeen = time.Now()
		l.mu.Unlock()

		if !c.limiter.Allow() {
			l.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup forgets clients that have been idle for a while.
func (l *RateLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTimeout {
			delete(l.clients, ip)
		}
	}
}

func (l *RateLimiter) Start(ctx context.Context) error {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.Cleanup(now)
		}
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); trustProxy && forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
