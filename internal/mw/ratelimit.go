package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter stores a token bucket per key: a client IP for the API,
// a device id for unlock dispatch.
type KeyedRateLimiter struct {
	keys map[string]*keyedLimiter
	mu   *sync.Mutex
	r    rate.Limit
	b    int
	idle time.Duration
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates a limiter allowing r events per second with
// burst b for each key. Keys unused for idle are forgotten.
func NewKeyedRateLimiter(r rate.Limit, b int, idle time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		keys: make(map[string]*keyedLimiter),
		mu:   &sync.Mutex{},
		r:    r,
		b:    b,
		idle: idle,
	}
}

// GetLimiter returns the limiter for key, creating it on first use.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	entry, exists := k.keys[key]
	if !exists {
		k.evictIdle(now)
		entry = &keyedLimiter{limiter: rate.NewLimiter(k.r, k.b)}
		k.keys[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Allow reports whether one more event for key fits in its bucket.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.GetLimiter(key).Allow()
}

func (k *KeyedRateLimiter) evictIdle(now time.Time) {
	if k.idle <= 0 {
		return
	}
	for key, entry := range k.keys {
		if now.Sub(entry.lastSeen) > k.idle {
			delete(k.keys, key)
		}
	}
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b, 10*time.Minute)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
