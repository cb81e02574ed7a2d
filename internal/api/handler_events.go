package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"locker-reservation-backend/internal/lifecycle"
	"locker-reservation-backend/internal/model"
)

// eventResponse wraps an event. HardwareError is set when the transition
// was committed but the device did not open.
type eventResponse struct {
	Event         *model.Event `json:"event"`
	HardwareError string       `json:"hardware_error,omitempty"`
}

// respondEvent writes the outcome of a lifecycle call. A hardware failure
// after a committed transition is still a success for the caller.
func respondEvent(c *gin.Context, status int, ev *model.Event, err error) {
	switch {
	case err == nil:
		c.JSON(status, eventResponse{Event: ev})
	case errors.Is(err, model.ErrHardwareFailed) && ev != nil:
		c.JSON(status, eventResponse{Event: ev, HardwareError: err.Error()})
	default:
		abortWithError(c, err)
	}
}

type startEventRequest struct {
	UserID        uuid.UUID  `json:"user_id"`
	Type          model.Mode `json:"type" binding:"required"`
	DeviceID      *uuid.UUID `json:"device_id"`
	LocationID    uuid.UUID  `json:"location_id"`
	SizeID        *uuid.UUID `json:"size_id"`
	PromoID       *uuid.UUID `json:"promo_id"`
	MembershipID  *uuid.UUID `json:"membership_id"`
	PaymentMethod string     `json:"payment_method"`
	OrderID       string     `json:"order_id"`
	InvoiceID     string     `json:"invoice_id"`
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// StartEvent handles POST /api/events.
func (h *Handler) StartEvent(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req startEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.UserID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if req.DeviceID == nil && req.LocationID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "device_id or location_id is required"})
		return
	}

	ev, err := h.engine.Start(c.Request.Context(), lifecycle.StartRequest{
		TenantID:      tenant,
		UserID:        req.UserID,
		Type:          req.Type,
		DeviceID:      nullUUID(req.DeviceID),
		LocationID:    req.LocationID,
		SizeID:        nullUUID(req.SizeID),
		PromoID:       nullUUID(req.PromoID),
		MembershipID:  nullUUID(req.MembershipID),
		PaymentMethod: req.PaymentMethod,
		OrderID:       req.OrderID,
		InvoiceID:     req.InvoiceID,
		Actor:         actor(c),
	})
	respondEvent(c, http.StatusCreated, ev, err)
}

// loadEvent resolves the :id path parameter to an event of the calling
// tenant. Events of other tenants are reported as missing.
func (h *Handler) loadEvent(c *gin.Context) (*model.Event, bool) {
	tenant, ok := tenantID(c)
	if !ok {
		return nil, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	ev, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	if ev.TenantID != tenant {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return nil, false
	}
	return ev, true
}

// GetEvent handles GET /api/events/:id.
func (h *Handler) GetEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eventResponse{Event: ev})
}

type confirmEventRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// ConfirmEvent handles POST /api/events/:id/confirm.
func (h *Handler) ConfirmEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var req confirmEventRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	next, err := h.engine.Confirm(c.Request.Context(), ev.ID, lifecycle.ConfirmRequest{
		PaymentMethod: req.PaymentMethod,
		Actor:         actor(c),
	})
	respondEvent(c, http.StatusOK, next, err)
}

// CompleteEvent handles POST /api/events/:id/complete.
func (h *Handler) CompleteEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	next, err := h.engine.Complete(c.Request.Context(), ev.ID, actor(c))
	respondEvent(c, http.StatusOK, next, err)
}

// Charge defaults to true; only an explicit false waives billing.
type cancelEventRequest struct {
	At     *time.Time `json:"at"`
	Charge *bool      `json:"charge"`
}

func charge(v *bool) bool {
	return v == nil || *v
}

// CancelEvent handles POST /api/events/:id/cancel. A future "at" defers the
// cancel; the response then carries the unchanged event.
func (h *Handler) CancelEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var req cancelEventRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	next, err := h.engine.Cancel(c.Request.Context(), ev.ID, lifecycle.CancelRequest{
		At:       req.At,
		NoCharge: !charge(req.Charge),
		Actor:    actor(c),
	})
	respondEvent(c, http.StatusOK, next, err)
}

type cancelManyRequest struct {
	EventIDs []uuid.UUID `json:"event_ids" binding:"required"`
	Charge   *bool       `json:"charge"`
}

// CancelEvents handles POST /api/events/cancel. Every id gets its own
// result; one failure never stops the batch.
func (h *Handler) CancelEvents(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req cancelManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	results := make([]lifecycle.CancelResult, len(req.EventIDs))
	var owned []uuid.UUID
	var positions []int
	for i, id := range req.EventIDs {
		ev, err := h.engine.Get(ctx, id)
		if err == nil && ev.TenantID != tenant {
			err = model.ErrNotFound
		}
		if err != nil {
			results[i] = lifecycle.CancelResult{EventID: id, Err: err, Error: err.Error()}
			continue
		}
		owned = append(owned, id)
		positions = append(positions, i)
	}
	for i, r := range h.engine.CancelMany(ctx, owned, charge(req.Charge), actor(c)) {
		results[positions[i]] = r
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ExpireEvent handles POST /api/events/:id/expire.
func (h *Handler) ExpireEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	next, err := h.engine.Expire(c.Request.Context(), ev.ID, actor(c))
	respondEvent(c, http.StatusOK, next, err)
}

type refundEventRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// RefundEvent handles POST /api/events/:id/refund. Without an amount the
// whole total is refunded.
func (h *Handler) RefundEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var req refundEventRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	next, err := h.engine.Refund(c.Request.Context(), ev.ID, req.Amount, actor(c))
	respondEvent(c, http.StatusOK, next, err)
}

type penalizeEventRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required"`
}

// PenalizeEvent handles POST /api/events/:id/penalize.
func (h *Handler) PenalizeEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var req penalizeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	penalty, err := h.engine.Penalize(c.Request.Context(), ev.ID, lifecycle.PenaltyRequest{
		Amount: req.Amount,
		Reason: req.Reason,
		Actor:  actor(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"penalty": penalty})
}

type advanceEventRequest struct {
	Weight *float64 `json:"weight"`
}

// AdvanceEvent handles POST /api/events/:id/advance.
func (h *Handler) AdvanceEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var req advanceEventRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	next, err := h.engine.AdvanceService(c.Request.Context(), ev.ID, req.Weight, actor(c))
	respondEvent(c, http.StatusOK, next, err)
}

// RegenerateCode handles POST /api/events/:id/regenerate-code.
func (h *Handler) RegenerateCode(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	next, err := h.engine.RegenerateCode(c.Request.Context(), ev.ID, actor(c))
	respondEvent(c, http.StatusOK, next, err)
}

// UnlockEvent handles POST /api/events/:id/unlock. A hardware failure is
// reported as 502 here since nothing else happened.
func (h *Handler) UnlockEvent(c *gin.Context) {
	ev, ok := h.loadEvent(c)
	if !ok {
		return
	}
	next, err := h.engine.Unlock(c.Request.Context(), ev.ID, actor(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse{Event: next})
}

// bindOptionalJSON binds a body when there is one. Operations whose fields
// are all optional accept an empty body.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}
