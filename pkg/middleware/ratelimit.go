package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/utafrali/bookshelf/pkg/httputil"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(r *http.Request) string

// UserOrIPKey keys authenticated requests by user id and anonymous ones by
// client IP.
func UserOrIPKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + clientIP(r)
}

// RateLimit rejects requests over the limiter's budget with 429 RATE_LIMITED.
// Limiter errors fail open: the request is served and the error logged.
func RateLimit(limiter Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = UserOrIPKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			d, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("key", k),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", k),
					slog.String("path", r.URL.Path),
				)
				if d.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				}
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "RATE_LIMITED", Message: "too many requests"},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// --- in-process token bucket ---

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is a per-key token bucket held in process memory. It is the
// fallback when no shared store is configured.
type LocalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocalLimiter starts a limiter allowing rps requests per second with the
// given burst. Idle keys are evicted after ttl. Call Close to stop eviction.
func NewLocalLimiter(rps float64, burst int, ttl time.Duration) *LocalLimiter {
	l := &LocalLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	d := Decision{Limit: l.burst}
	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		d.RetryAfter = delay
	} else {
		d.Allowed = true
	}
	d.Remaining = max(int(v.limiter.TokensAt(now)), 0)
	return d, nil
}

// Close stops the eviction goroutine.
func (l *LocalLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *LocalLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, k)
		}
	}
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// --- shared fixed window ---

// WindowCounter increments the hit counter for key in the current window and
// returns the new count and the time left in the window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// WindowLimiter is a fixed-window limiter over a WindowCounter so that all
// replicas share one budget per key.
type WindowLimiter struct {
	counter WindowCounter
	limit   int
	window  time.Duration
}

// NewWindowLimiter allows limit requests per window.
func NewWindowLimiter(counter WindowCounter, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{counter: counter, limit: limit, window: window}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	n, ttl, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("incr rate window: %w", err)
	}
	d := Decision{
		Allowed:   n <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(l.limit-int(n), 0),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// RedisWindowCounter implements WindowCounter with SET NX EX + INCR in one
// MULTI block: the first hit of a window creates the key with its expiry and
// later hits only increment it. INCR keeps the TTL.
type RedisWindowCounter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisWindowCounter creates a counter storing keys under prefix.
func NewRedisWindowCounter(client redis.Cmdable, prefix string) *RedisWindowCounter {
	return &RedisWindowCounter{client: client, prefix: prefix}
}

// Incr implements WindowCounter.
func (c *RedisWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := c.prefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, k, 0, window)
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate window %s: %w", k, err)
	}
	return incr.Val(), ttl.Val(), nil
}

// clientIP returns the first address in X-Forwarded-For, then X-Real-IP,
// then RemoteAddr without the port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	return clientHost(r)
}
