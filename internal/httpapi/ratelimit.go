package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig allows MaxRequests per client IP in every Window. Buckets
// refill continuously, so a client that spent its allowance regains one
// request every Window/MaxRequests.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

type RateLimiter struct {
	limit   int
	clients *ipBuckets
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	return &RateLimiter{
		limit:   cfg.MaxRequests,
		clients: newIPBuckets(cfg.Window, cfg.MaxRequests),
	}
}

// Middleware throttles the /api/ surface only; health, metrics and the
// realtime transport are never limited.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		remaining, retryAfter, ok := l.clients.take(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many requests from this IP, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ipBuckets struct {
	mu       sync.Mutex
	perToken time.Duration
	capacity float64
	buckets  map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newIPBuckets(window time.Duration, max int) *ipBuckets {
	return &ipBuckets{
		perToken: window / time.Duration(max),
		capacity: float64(max),
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// take spends one token for key. It reports the whole tokens left and, when
// the bucket is empty, how long until the next token arrives.
func (b *ipBuckets) take(key string) (int, time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	current, ok := b.buckets[key]
	if !ok {
		current = &bucket{tokens: b.capacity, last: now}
		b.buckets[key] = current
	} else {
		refill := float64(now.Sub(current.last)) / float64(b.perToken)
		current.tokens = math.Min(b.capacity, current.tokens+refill)
		current.last = now
	}
	if current.tokens < 1 {
		wait := time.Duration((1 - current.tokens) * float64(b.perToken))
		return 0, wait, false
	}
	current.tokens--
	b.evictIdle(now)
	return int(current.tokens), 0, true
}

// evictIdle drops buckets that have been full for a whole refill cycle.
func (b *ipBuckets) evictIdle(now time.Time) {
	if len(b.buckets) < 1024 {
		return
	}
	idle := time.Duration(b.capacity) * b.perToken
	for key, candidate := range b.buckets {
		if now.Sub(candidate.last) > idle {
			delete(b.buckets, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
