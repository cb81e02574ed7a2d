package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"locker-reservation-backend/internal/lifecycle"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/pricing"
	"locker-reservation-backend/internal/store"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"
	actorHeader  = "X-Actor"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *lifecycle.Service
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(engine *lifecycle.Service, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		engine:  engine,
		store:   s,
		webpush: webpushOptions,
	}
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotAvailable),
		errors.Is(err, model.ErrNoDeviceAvailable),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, pricing.ErrUnsupportedPriceUnit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrCodeGenerationExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrHardwareFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// tenantID reads the calling tenant. Identity is established upstream.
func tenantID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(tenantHeader)
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		badRequest(c, fmt.Errorf("%s header is required", tenantHeader))
		return uuid.Nil, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	if a := c.GetHeader(actorHeader); a != "" {
		return a
	}
	return c.GetHeader(userHeader)
}
