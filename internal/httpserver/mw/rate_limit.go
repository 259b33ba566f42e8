package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/katsuma/jukeboxx/internal/utils"
)

type RateLimitConfig struct {
	Burst             int
	RefillPerIPPerMin int
	MaxEntries        int
	SweepInterval     time.Duration
	IdleTTL           time.Duration
	TrustProxy        bool // resolve IP from proxy headers when true
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. It is shared between the
// submit endpoint and websocket submit commands.
type RateLimiter struct {
	cfg       RateLimitConfig
	limit     rate.Limit
	now       func() time.Time
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerIPPerMin < 1 {
		cfg.RefillPerIPPerMin = 1
	}
	return &RateLimiter{
		cfg:       cfg,
		limit:     rate.Every(time.Minute / time.Duration(cfg.RefillPerIPPerMin)),
		now:       time.Now,
		visitors:  make(map[string]*visitor, 1024),
		lastSweep: time.Now(),
	}
}

func (l *RateLimiter) visitorFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.SweepInterval ||
		(l.cfg.MaxEntries > 0 && len(l.visitors) >= l.cfg.MaxEntries) {
		l.sweepLocked(now)
	}

	v := l.visitors[key]
	if v == nil {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.cfg.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.cfg.IdleTTL {
			delete(l.visitors, key)
		}
	}
	l.lastSweep = now
}

// Allow consumes one token for key. When the bucket is empty it reports how
// long until the next token.
func (l *RateLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	now := l.now()
	lim := l.visitorFor(key, now)

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, 0, delay
	}
	return true, int(math.Max(0, math.Floor(lim.TokensAt(now)))), 0
}

// Middleware limits requests per client IP.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	limitStr := strconv.Itoa(l.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := utils.ClientIP(r, l.cfg.TrustProxy)

			ok, remaining, retry := l.Allow(key)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				w.Header().Set("X-RateLimit-Limit", limitStr)
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limitStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
