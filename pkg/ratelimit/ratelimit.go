package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long an unused per-IP bucket is kept
const idleAfter = 10 * time.Minute

// Limiter is a token bucket keyed by client IP
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket // per-IP buckets
	rps     rate.Limit
	burst   int
	now     func() time.Time
	swept   time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates an IP-based limiter allowing rps requests per second with
// bursts of twice that
func New(rps float64) *Limiter {
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: map[string]*bucket{},
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether ip may make another request now
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.swept) > idleAfter {
		l.sweepLocked(now)
	}
	b := l.buckets[ip]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweepLocked drops buckets idle for longer than idleAfter
func (l *Limiter) sweepLocked(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(l.buckets, ip)
		}
	}
	l.swept = now
}

// Middleware enforces the rate limit before calling the next handler
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			ip = req.RemoteAddr
		}
		if !l.Allow(ip) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
