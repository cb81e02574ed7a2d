package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"locker-reservation-backend/internal/lifecycle"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/store"
)

type createReservationRequest struct {
	DeviceID uuid.UUID  `json:"device_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Type     model.Mode `json:"type" binding:"required"`
	Weekdays string     `json:"weekdays" binding:"required"`
	Start    string     `json:"start" binding:"required"`
	End      string     `json:"end" binding:"required"`
	Timezone string     `json:"timezone"`
	Until    *time.Time `json:"until"`
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.DeviceID == uuid.Nil || req.UserID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "device_id and user_id are required"})
		return
	}

	r, err := h.engine.CreateReservation(c.Request.Context(), lifecycle.ReservationRequest{
		TenantID: tenant,
		DeviceID: req.DeviceID,
		UserID:   req.UserID,
		Type:     req.Type,
		Weekdays: req.Weekdays,
		Start:    req.Start,
		End:      req.End,
		Timezone: req.Timezone,
		Until:    req.Until,
		Actor:    actor(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reservation": r})
}

// DeleteReservation handles DELETE /api/reservations/:id.
func (h *Handler) DeleteReservation(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteReservation(c.Request.Context(), tenant, id, actor(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAvailability handles GET /api/locations/:id/availability. The optional
// size_id and type query parameters narrow the listing.
func (h *Handler) GetAvailability(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	location, ok := pathID(c, "id")
	if !ok {
		return
	}

	sel := store.DeviceSelector{
		TenantID:   tenant,
		LocationID: location,
		Mode:       model.Mode(c.Query("type")),
	}
	if raw := c.Query("size_id"); raw != "" {
		size, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid size_id"})
			return
		}
		sel.SizeID = uuid.NullUUID{UUID: size, Valid: true}
	}
	if sel.Mode != "" && !sel.Mode.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
		return
	}

	devices, err := h.engine.Availability(c.Request.Context(), sel)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}
