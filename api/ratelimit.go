package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// RATE LIMITING - Token bucket per client
// =============================================================================

// RateLimiter throttles each client address with its own token bucket. It
// runs before authentication, so it never keys on the claimed X-Actor; the
// address is the one middleware.RealIP resolved from proxy headers.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing requestsPerMinute per client.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		idleTTL:   10 * time.Minute,
		visitors:  make(map[string]*visitor),
		clockNow:  time.Now,
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.perSecond <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.limiter(clientID(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clockNow()
	rl.evictIdle(now)

	v, ok := rl.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

// evictIdle drops clients not seen for idleTTL. Caller holds mu.
func (rl *RateLimiter) evictIdle(now time.Time) {
	for id, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
