package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"locker-reservation-backend/config"
	"locker-reservation-backend/internal/lifecycle"
	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/mw"
	"locker-reservation-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(engine *lifecycle.Service, s store.Store, webpushOptions *webpush.Options, m *metrics.Metrics, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(engine, s, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Availability changes with every start, so entries live briefly.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := s.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/events", handler.StartEvent)
		api.POST("/events/cancel", handler.CancelEvents)
		api.GET("/events/:id", handler.GetEvent)
		api.POST("/events/:id/confirm", handler.ConfirmEvent)
		api.POST("/events/:id/complete", handler.CompleteEvent)
		api.POST("/events/:id/cancel", handler.CancelEvent)
		api.POST("/events/:id/expire", handler.ExpireEvent)
		api.POST("/events/:id/refund", handler.RefundEvent)
		api.POST("/events/:id/penalize", handler.PenalizeEvent)
		api.POST("/events/:id/advance", handler.AdvanceEvent)
		api.POST("/events/:id/regenerate-code", handler.RegenerateCode)
		api.POST("/events/:id/unlock", handler.UnlockEvent)

		api.POST("/reservations", handler.CreateReservation)
		api.DELETE("/reservations/:id", handler.DeleteReservation)

		api.GET("/locations/:id/availability", caching, handler.GetAvailability)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/push/settings", handler.GetPushSettings)
	}

	return r
}
