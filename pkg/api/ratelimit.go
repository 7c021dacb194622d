package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL bounds how long an idle client keeps its token bucket. Buckets
// are swept periodically so the map does not grow with every IP ever seen.
const (
	visitorTTL = 10 * time.Minute
	sweepEvery = 5 * time.Minute
)

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// visitorTable tracks one token bucket per client IP. The refill rate is the
// configured requests-per-minute spread evenly across the minute, with the
// full minute available as burst.
type visitorTable struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

func newVisitorTable(requestsPerMinute int) *visitorTable {
	vt := &visitorTable{
		visitors: make(map[string]*visitor, 64),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
	}

	go vt.sweep()

	return vt
}

func (vt *visitorTable) bucketFor(ip string) *rate.Limiter {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	v, ok := vt.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(vt.rps, vt.burst)}
		vt.visitors[ip] = v
	}

	v.lastSeen = time.Now()

	return v.bucket
}

func (vt *visitorTable) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for range ticker.C {
		vt.mu.Lock()

		for ip, v := range vt.visitors {
			if time.Since(v.lastSeen) > visitorTTL {
				delete(vt.visitors, ip)
			}
		}

		vt.mu.Unlock()
	}
}

// rateLimitMiddleware throttles each client IP independently.
func (s *server) rateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	table := newVisitorTable(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !table.bucketFor(extractIP(r)).Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP resolves the client address, honoring X-Forwarded-For when a
// reverse proxy sits in front of the server.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return xff[:idx]
		}

		return xff
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
