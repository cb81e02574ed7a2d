package model

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

// ScheduledJob is a durable timer. At most one row exists per ID.
type ScheduledJob struct {
	ID         string    `gorm:"primaryKey;size:128"`
	Transition string    `gorm:"size:64;not null"`
	Args       string    `gorm:"type:text"`
	FireAt     time.Time `gorm:"index;not null"`
	// Recurrence; Weekdays is empty for one-shot jobs.
	Weekdays    string `gorm:"size:32"`
	MinuteOfDay int
	Timezone    string `gorm:"size:64"`
	Until       null.Time
	LeaseToken  string `gorm:"size:36;not null;default:''"`
	LeaseUntil  null.Time
	Attempts    int `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recurring reports whether the job repeats.
func (j *ScheduledJob) Recurring() bool {
	return j.Weekdays != ""
}

// Reservation is a recurring window during which a device is held for a user.
type Reservation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;index;not null" json:"tenant_id"`
	DeviceID    uuid.UUID `gorm:"type:uuid;index;not null" json:"device_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Type        Mode      `gorm:"size:32;not null" json:"type"`
	Weekdays    string    `gorm:"size:32;not null" json:"weekdays"`
	StartMinute int       `gorm:"not null" json:"start_minute"`
	EndMinute   int       `gorm:"not null" json:"end_minute"`
	Timezone    string    `gorm:"size:64" json:"timezone"`
	Until       null.Time `json:"until"`
	Active      bool      `gorm:"not null" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
