package middleware

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

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// KeyByPrincipal charges authenticated callers per user, anonymous callers per
// session, and anything else per client IP.
func KeyByPrincipal(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		if p.UserID != "" {
			return "user:" + p.UserID
		}
		return "session:" + p.SessionID
	}
	return "ip:" + ClientIP(r)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

func newBucketStore(rps float64, burst int, ttl time.Duration) *bucketStore {
	return &bucketStore{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *bucketStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = s.now()
	return b.limiter
}

func (s *bucketStore) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.ttl {
			delete(s.buckets, key)
		}
	}
}

func (s *bucketStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *bucketStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// RateLimit enforces a token bucket of rps requests per second with the given
// burst for each key. Over-limit requests get 429 with a Retry-After hint.
// Idle buckets are swept until ctx is cancelled.
func RateLimit(ctx context.Context, rps float64, burst int, key KeyFunc, l *slog.Logger) func(http.Handler) http.Handler {
	const idleTTL = 3 * time.Minute
	store := newBucketStore(rps, burst, idleTTL)
	go store.sweep(ctx)
	return rateLimit(store, key, l)
}

func rateLimit(store *bucketStore, key KeyFunc, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !store.get(k).Allow() {
				l.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", k),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first valid address in X-Forwarded-For, then
// X-Real-IP, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
