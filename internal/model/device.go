package model

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

// DeviceStatus is the reservation state of a device. It is only written by
// the resource lock and by maintenance operations.
type DeviceStatus string

const (
	DeviceAvailable   DeviceStatus = "available"
	DeviceReserved    DeviceStatus = "reserved"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceExpired     DeviceStatus = "expired"
)

// LockStatus is the last known physical state of the lock.
type LockStatus string

const (
	LockLocked  LockStatus = "locked"
	LockOpen    LockStatus = "open"
	LockUnknown LockStatus = "unknown"
	LockOffline LockStatus = "offline"
	LockClosed  LockStatus = "closed"
)

// Mode is the usage mode of a device, and the type of the events run on it.
type Mode string

const (
	ModeService  Mode = "service"
	ModeStorage  Mode = "storage"
	ModeRental   Mode = "rental"
	ModeDelivery Mode = "delivery"
	ModeVending  Mode = "vending"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeService, ModeStorage, ModeRental, ModeDelivery, ModeVending:
		return true
	}
	return false
}

// Timed reports whether events of this mode bill for elapsed time while the
// user holds the device.
func (m Mode) Timed() bool {
	return m == ModeStorage || m == ModeRental
}

// Device represents a physical access point: a locker door, a bin, a gate.
type Device struct {
	ID               uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID    `gorm:"type:uuid;index;not null" json:"tenant_id"`
	LocationID       uuid.UUID    `gorm:"type:uuid;index:idx_device_selector" json:"location_id"`
	SizeID           uuid.UUID    `gorm:"type:uuid;index:idx_device_selector" json:"size_id"`
	Name             string       `gorm:"size:128" json:"name"`
	Status           DeviceStatus `gorm:"size:32;index;not null;default:available" json:"status"`
	LockStatus       LockStatus   `gorm:"size:32;not null;default:unknown" json:"lock_status"`
	Mode             Mode         `gorm:"size:32;not null" json:"mode"`
	Restricted       bool         `gorm:"not null;default:false" json:"restricted"`
	HardwareKind     HardwareKind `gorm:"size:32;not null;default:virtual" json:"hardware_kind"`
	HardwareAddress  string       `gorm:"type:text" json:"-"`
	TransactionCount int64        `gorm:"not null;default:0" json:"transaction_count"`
	PricePolicyID    null.String  `gorm:"size:36" json:"price_policy_id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// DeviceGrant gives a user access to a restricted device.
type DeviceGrant struct {
	DeviceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}
