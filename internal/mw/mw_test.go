package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestKeyedRateLimiter(t *testing.T) {
	limiter := NewKeyedRateLimiter(rate.Limit(1), 2, time.Minute)

	assert.True(t, limiter.Allow("device-a"))
	assert.True(t, limiter.Allow("device-a"))
	assert.False(t, limiter.Allow("device-a"), "burst exhausted")
	assert.True(t, limiter.Allow("device-b"), "keys are independent")
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 1))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestCacheMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/availability", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	get := func(tenant, cacheControl string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/availability", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		if cacheControl != "" {
			req.Header.Set("Cache-Control", cacheControl)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.JSONEq(t, `{"calls":1}`, get("t1", "").Body.String())
	hit := get("t1", "")
	assert.JSONEq(t, `{"calls":1}`, hit.Body.String())
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))

	assert.JSONEq(t, `{"calls":2}`, get("t2", "").Body.String(), "other tenant misses")
	assert.JSONEq(t, `{"calls":3}`, get("t1", "no-cache").Body.String())
	assert.JSONEq(t, `{"calls":3}`, get("t1", "").Body.String(), "bypass refreshed the entry")
}
