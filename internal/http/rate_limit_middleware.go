package httpx

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/splax/buildor/internal/api"
)

// Quota is a fixed-window request budget.
type Quota struct {
	Limit  int
	Window time.Duration
}

func (q Quota) normalized() Quota {
	if q.Window <= 0 {
		q.Window = time.Minute
	}
	return q
}

// Decision is the limiter's answer for one request.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, q Quota) Decision
	Close()
}

type keyFunc func(*http.Request) string

const memorySweepEvery = 5 * time.Minute

type window struct {
	count int
	ends  time.Time
}

// memoryRateLimiter keeps windows in process. Expired windows are dropped
// lazily, at most once per memorySweepEvery.
type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]window
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{windows: make(map[string]window), now: time.Now}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, q Quota) Decision {
	if q.Limit <= 0 {
		return Decision{Allowed: true, Remaining: math.MaxInt32}
	}
	q = q.normalized()
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.After(rl.nextSweep) {
		rl.sweep(now)
		rl.nextSweep = now.Add(memorySweepEvery)
	}
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.ends) {
		w = window{ends: now.Add(q.Window)}
	}
	if w.count >= q.Limit {
		return Decision{Allowed: false, ResetAt: w.ends}
	}
	w.count++
	rl.windows[key] = w
	return Decision{Allowed: true, Remaining: q.Limit - w.count, ResetAt: w.ends}
}

func (rl *memoryRateLimiter) sweep(now time.Time) {
	for key, w := range rl.windows {
		if !now.Before(w.ends) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}

// limit enforces q per key on next. Requests without a key fall back to the client IP.
func (r *Router) limit(route string, q Quota, key keyFunc, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if q.Limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		k := key(req)
		if k == "" {
			k = ipKey(req)
		}
		d := r.limiter.Allow(req.Context(), route+"|"+k, q)
		setRateHeaders(w, q, d, time.Now())
		if !d.Allowed {
			r.metrics.rateLimited(route, keyKind(k))
			writeError(w, http.StatusTooManyRequests, api.CodeRateLimited, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// authLimited authenticates first so the quota is charged to the caller, not the address.
func (r *Router) authLimited(route string, q Quota, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.limit(route, q, userKey, next))
}

func userKey(req *http.Request) string {
	if info, ok := callerFrom(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return ""
}

func ipKey(req *http.Request) string {
	if ip := clientIP(req); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// keyKind keeps metric label cardinality bounded.
func keyKind(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}

func setRateHeaders(w http.ResponseWriter, q Quota, d Decision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	if d.ResetAt.IsZero() {
		return
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		wait := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
		h.Set("Retry-After", strconv.Itoa(max(wait, 1)))
	}
}

func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
