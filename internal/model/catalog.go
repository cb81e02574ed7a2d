package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceUnit is the billing unit of a price policy.
type PriceUnit string

const (
	UnitMinute PriceUnit = "minute"
	UnitHour   PriceUnit = "hour"
	UnitDay    PriceUnit = "day"
	UnitWeek   PriceUnit = "week"
	UnitPound  PriceUnit = "lb"
	UnitKilo   PriceUnit = "kg"
)

// DiscountType selects how a promo or membership discount is applied.
type DiscountType string

const (
	DiscountFixed   DiscountType = "fixed"
	DiscountPercent DiscountType = "percent"
)

// MembershipKind selects what a membership does to a price.
type MembershipKind string

const (
	MembershipUnlimited MembershipKind = "unlimited"
	MembershipLimited   MembershipKind = "limited"
	MembershipDiscount  MembershipKind = "discount"
)

// Organization holds the per-tenant lifecycle settings.
type Organization struct {
	TenantID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name               string    `gorm:"size:128"`
	ParcelExpiration   int       `gorm:"not null;default:72"` // hours
	AutoCancelMinutes  int       `gorm:"not null;default:5"`
	Currency           string    `gorm:"size:3"`
	CardOnFileRequired bool      `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PricePolicy is the rate attached to a device.
type PricePolicy struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID       `gorm:"type:uuid;index;not null"`
	Name      string          `gorm:"size:128"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency  string          `gorm:"size:3"`
	Unit      PriceUnit       `gorm:"size:16;not null"`
	Prorated  bool            `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Promo is a discount code redeemed on an event.
type Promo struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID       `gorm:"type:uuid;index;not null"`
	Code         string          `gorm:"size:64;index"`
	DiscountType DiscountType    `gorm:"size:16;not null"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Active       bool            `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership is a recurring entitlement that waives or discounts prices.
type Membership struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID       `gorm:"type:uuid;index;not null"`
	UserID         uuid.UUID       `gorm:"type:uuid;index"`
	Kind           MembershipKind  `gorm:"size:16;not null"`
	Active         bool            `gorm:"not null"`
	LocationIDs    string          `gorm:"type:text"` // comma separated, empty = every location
	UsesRemaining  int             `gorm:"not null;default:0"`
	DiscountType   DiscountType    `gorm:"size:16"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Covers reports whether the membership applies at the given location.
func (m *Membership) Covers(locationID uuid.UUID) bool {
	if strings.TrimSpace(m.LocationIDs) == "" {
		return true
	}
	for _, raw := range strings.Split(m.LocationIDs, ",") {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil && id == locationID {
			return true
		}
	}
	return false
}
