package web

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonMunkholm/enrolment/internal/metrics"
)

// errRateLimited maps to RATE001.
var errRateLimited = errors.New("rate limit exceeded")

// visitorTTL is how long an idle client keeps its bucket.
const visitorTTL = 3 * time.Minute

// rateLimiter is a per-IP token bucket. perMinute tokens refill over one
// minute and the bucket holds a full minute's worth.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	metrics   *metrics.Metrics
	onLimited func(w http.ResponseWriter, r *http.Request)

	stop chan struct{}
	once sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int, m *metrics.Metrics, onLimited func(http.ResponseWriter, *http.Request)) *rateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rl := &rateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		metrics:   m,
		onLimited: onLimited,
		stop:      make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes idle visitors every minute until Close.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastSeen) > visitorTTL {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *rateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

// middleware rate limits by client IP. TrustedRealIP must run first so
// RemoteAddr already holds the client address.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			rl.metrics.IncrementRateLimited()
			retry := time.Duration(float64(time.Second) / float64(rl.limit))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			rl.onLimited(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
