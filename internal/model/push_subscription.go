package model

import (
	"time"

	"github.com/google/uuid"
)

// PushSubscription holds the information for a browser push subscription
// that receives a user's lifecycle messages.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
