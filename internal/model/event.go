package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// EventStatus is a state of the event lifecycle.
type EventStatus string

const (
	StatusAwaitingPaymentConfirmation EventStatus = "awaiting_payment_confirmation"
	StatusReserved                    EventStatus = "reserved"
	StatusInProgress                  EventStatus = "in_progress"
	StatusAwaitingServicePickup       EventStatus = "awaiting_service_pickup"
	StatusAwaitingServiceDropoff      EventStatus = "awaiting_service_dropoff"
	StatusAwaitingUserPickup          EventStatus = "awaiting_user_pickup"
	StatusTransactionInProgress       EventStatus = "transaction_in_progress"
	StatusFinished                    EventStatus = "finished"
	StatusCanceled                    EventStatus = "canceled"
	StatusExpired                     EventStatus = "expired"
	StatusRefunded                    EventStatus = "refunded"
)

// TerminalStatuses lists the states an event never leaves, except
// finished/canceled moving to refunded.
var TerminalStatuses = []EventStatus{StatusFinished, StatusCanceled, StatusExpired, StatusRefunded}

// Terminal reports whether s is a terminal state.
func (s EventStatus) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// In reports whether s is one of the given states.
func (s EventStatus) In(states ...EventStatus) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}

// Event is one transaction on a device, from reservation to settlement.
type Event struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID           `gorm:"type:uuid;index;not null" json:"tenant_id"`
	DeviceID       uuid.UUID           `gorm:"type:uuid;index;not null" json:"device_id"`
	UserID         uuid.UUID           `gorm:"type:uuid;index;not null" json:"user_id"`
	LocationID     uuid.UUID           `gorm:"type:uuid" json:"location_id"`
	Type           Mode                `gorm:"size:32;not null" json:"type"`
	Status         EventStatus         `gorm:"column:event_status;size:40;index;not null" json:"event_status"`
	Total          decimal.Decimal     `gorm:"type:numeric(12,2);not null;default:0" json:"total"`
	Currency       string              `gorm:"size:3" json:"currency"`
	Code           string              `gorm:"size:16" json:"code,omitempty"`
	StartedAt      time.Time           `gorm:"not null" json:"started_at"`
	EndedAt        null.Time           `json:"ended_at"`
	PricePolicyID  null.String         `gorm:"size:36" json:"price_policy_id"`
	PromoID        null.String         `gorm:"size:36" json:"promo_id"`
	MembershipID   null.String         `gorm:"size:36" json:"membership_id"`
	ReservationID  null.String         `gorm:"size:36;index" json:"reservation_id"`
	OrderID        null.String         `gorm:"size:128" json:"order_id"`
	InvoiceID      null.String         `gorm:"size:128" json:"invoice_id"`
	PaymentMethod  null.String         `gorm:"size:128" json:"-"`
	SetupHandle    null.String         `gorm:"size:128" json:"-"`
	PaymentRef     null.String         `gorm:"size:128" json:"payment_ref"`
	Weight         null.Float          `json:"weight"`
	RefundedAmount decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"refunded_amount"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Penalty is a misuse charge raised against the user of a settled event.
type Penalty struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   uuid.UUID       `gorm:"type:uuid;index;not null" json:"tenant_id"`
	EventID    uuid.UUID       `gorm:"type:uuid;index;not null" json:"event_id"`
	UserID     uuid.UUID       `gorm:"type:uuid;not null" json:"user_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency   string          `gorm:"size:3" json:"currency"`
	Reason     string          `gorm:"size:512" json:"reason"`
	PaymentRef string          `gorm:"size:128" json:"payment_ref"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditEntry is an append-only record of a lock-affecting action.
type AuditEntry struct {
	ID        int64         `gorm:"primaryKey;autoIncrement"`
	TenantID  uuid.UUID     `gorm:"type:uuid;index;not null"`
	DeviceID  uuid.NullUUID `gorm:"type:uuid;index"`
	EventID   uuid.NullUUID `gorm:"type:uuid;index"`
	Action    string        `gorm:"size:64;not null"`
	Actor     string        `gorm:"size:128;not null"`
	CreatedAt time.Time     `gorm:"not null"`
}
