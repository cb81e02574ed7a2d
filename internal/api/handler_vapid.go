package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"locker-reservation-backend/internal/notification"
)

type pushSettingsResponse struct {
	PublicKey  string   `json:"public_key"`
	TTLSeconds int      `json:"ttl_seconds"`
	Messages   []string `json:"messages"`
}

// GetPushSettings handles GET /api/push/settings. A client needs the VAPID
// key to subscribe; the message list names what a subscription delivers
// (access codes, receipts, parcel notices).
func (h *Handler) GetPushSettings(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "user messages are disabled: vapid keys are not configured"})
		return
	}

	c.JSON(http.StatusOK, pushSettingsResponse{
		PublicKey:  h.webpush.VAPIDPublicKey,
		TTLSeconds: h.webpush.TTL,
		Messages:   notification.TemplateNames(),
	})
}
