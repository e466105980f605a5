package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// minLimiterTTL is how long an idle client's bucket is kept at least.
const minLimiterTTL = 5 * time.Minute

// RateLimitMiddleware limits requests per client IP with token buckets.
// Forwarding headers are only honoured when the direct peer is a trusted proxy.
type RateLimitMiddleware struct {
	trustedProxies []netip.Prefix
	now            func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(trustedProxies ...netip.Prefix) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		trustedProxies: trustedProxies,
		now:            time.Now,
	}
}

// RateLimit admits maxRequests per client per window, refilled evenly.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	limiters := newClientLimiters(maxRequests, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(m.clientIP(r), m.now()) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// clientLimiters keeps one bucket per client and drops buckets idle for
// longer than ttl. A bucket idle that long is full again, so dropping it
// changes no decision.
type clientLimiters struct {
	limiters sync.Map // client IP -> *cachedLimiter
	limit    rate.Limit
	burst    int
	ttl      time.Duration

	mu        sync.Mutex
	lastSweep time.Time
}

func newClientLimiters(maxRequests int, window time.Duration) *clientLimiters {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	ttl := minLimiterTTL
	if window > ttl {
		ttl = window
	}
	return &clientLimiters{
		limit: rate.Every(window / time.Duration(maxRequests)),
		burst: maxRequests,
		ttl:   ttl,
	}
}

func (c *clientLimiters) allow(client string, now time.Time) bool {
	c.sweep(now)
	entry := c.getOrCreate(client, now)
	entry.lastSeen.Store(now.UnixNano())
	return entry.limiter.AllowN(now, 1)
}

func (c *clientLimiters) getOrCreate(client string, now time.Time) *cachedLimiter {
	if v, ok := c.limiters.Load(client); ok {
		return v.(*cachedLimiter)
	}
	entry := &cachedLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
	entry.lastSeen.Store(now.UnixNano())
	v, _ := c.limiters.LoadOrStore(client, entry)
	return v.(*cachedLimiter)
}

// sweep runs at most once per ttl.
func (c *clientLimiters) sweep(now time.Time) {
	c.mu.Lock()
	if now.Sub(c.lastSweep) < c.ttl {
		c.mu.Unlock()
		return
	}
	c.lastSweep = now
	c.mu.Unlock()

	cutoff := now.Add(-c.ttl).UnixNano()
	c.limiters.Range(func(key, value any) bool {
		if value.(*cachedLimiter).lastSeen.Load() < cutoff {
			c.limiters.CompareAndDelete(key, value)
		}
		return true
	})
}

func (c *clientLimiters) len() int {
	n := 0
	c.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// clientIP returns the peer address, or the nearest untrusted hop of
// X-Forwarded-For (then X-Real-IP) when the peer is a trusted proxy.
func (m *RateLimitMiddleware) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !m.trusted(peer) {
		return peer
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !m.trusted(hop) {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func (m *RateLimitMiddleware) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
