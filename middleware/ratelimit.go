package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// Limiters hands out one token bucket per key and forgets keys idle for ten
// minutes.
type Limiters struct {
	r rate.Limit
	b int
	m sync.Map // key → *keyedLimiter
}

// NewLimiters creates a Limiters and starts its cleanup loop.
func NewLimiters(r rate.Limit, b int) *Limiters {
	l := &Limiters{r: r, b: b}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.sweep(time.Now().Add(-10 * time.Minute))
		}
	}()
	return l
}

func (l *Limiters) sweep(cutoff time.Time) {
	l.m.Range(func(k, v any) bool {
		if v.(*keyedLimiter).lastSeen.Load() < cutoff.UnixNano() {
			l.m.Delete(k)
		}
		return true
	})
}

// Allow takes one token from key's bucket.
func (l *Limiters) Allow(key string) bool {
	v, _ := l.m.LoadOrStore(key, &keyedLimiter{limiter: rate.NewLimiter(l.r, l.b)})
	kl := v.(*keyedLimiter)
	kl.lastSeen.Store(time.Now().UnixNano())
	return kl.limiter.Allow()
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(NewLimiters(r, b), func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitBy limits requests per key as computed by keyFn.
func RateLimitBy(l *Limiters, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(keyFn(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
