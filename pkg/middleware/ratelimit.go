package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/salepoint/salepoint/pkg/httputil"
)

const (
	limiterIdleAfter  = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per caller and evicts buckets that
// have been idle long enough to be full again, keeping the map bounded by the
// set of recently active callers.
type limiterPool struct {
	mu    sync.Mutex
	rps   float64
	burst int

	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		rps:     rps,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastSweep) >= limiterSweepEvery {
		p.sweepLocked(now)
	}

	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.entries[key] = e
	}
	e.lastSeen = now
	return e.lim
}

func (p *limiterPool) sweepLocked(now time.Time) {
	for key, e := range p.entries {
		if now.Sub(e.lastSeen) >= limiterIdleAfter {
			delete(p.entries, key)
		}
	}
	p.lastSweep = now
}

// RateLimit throttles requests per authenticated user, falling back to the
// remote address, using a token bucket. Intended for write-heavy endpoints
// such as sale finalization.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if id := UserIDFromContext(r.Context()); id != "" {
				key = id
			}

			if !pool.get(key, time.Now()).Allow() {
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "RATE_LIMITED",
						Message: "too many requests",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
