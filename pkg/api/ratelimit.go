package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/testoor/pkg/config"
	"golang.org/x/time/rate"
)

const (
	clientSweepInterval = 5 * time.Minute
	clientIdleTTL       = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds one token bucket per client key.
type clientLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

func newClientLimiter(cfg config.RateLimitConfig, now func() time.Time) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   cfg.EffectiveBurst(),
		now:     now,
		buckets: make(map[string]*clientBucket, 64),
	}
}

// allow takes a token for key. When none is available it returns false and
// how long the client should wait.
func (cl *clientLimiter) allow(key string) (bool, time.Duration) {
	now := cl.now()

	cl.mu.Lock()

	b, ok := cl.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[key] = b
	}

	b.lastSeen = now
	limiter := b.limiter

	cl.mu.Unlock()

	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}

	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)

		return false, delay
	}

	return true, 0
}

// sweep drops buckets idle for longer than clientIdleTTL.
func (cl *clientLimiter) sweep() int {
	cutoff := cl.now().Add(-clientIdleTTL)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	var dropped int

	for key, b := range cl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(cl.buckets, key)
			dropped++
		}
	}

	return dropped
}

func (cl *clientLimiter) size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return len(cl.buckets)
}

func (cl *clientLimiter) sweepUntil(done <-chan struct{}) {
	ticker := time.NewTicker(clientSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cl.sweep()
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware limits each client to the configured request rate.
// Rejected requests get 429 with a Retry-After header.
func (s *server) rateLimitMiddleware(
	cfg config.RateLimitConfig,
) func(http.Handler) http.Handler {
	limiter := newClientLimiter(cfg, time.Now)

	go limiter.sweepUntil(s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.allow(clientKey(r, cfg.TrustProxy))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the client of a request by IP address.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
