package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Resource lock.
	Reserve(ctx context.Context, deviceID, tenantID uuid.UUID) (*model.Device, error)
	Release(ctx context.Context, deviceID uuid.UUID, tenantID *uuid.UUID) (*model.Device, error)

	GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error)
	SelectDevice(ctx context.Context, sel DeviceSelector) (*model.Device, error)
	ListAvailable(ctx context.Context, sel DeviceSelector) ([]model.Device, error)
	SetLockStatus(ctx context.Context, deviceID uuid.UUID, status model.LockStatus) error
	DevicesByHardwareKind(ctx context.Context, kind model.HardwareKind) ([]model.Device, error)

	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	TransitionEvent(ctx context.Context, id uuid.UUID, from []model.EventStatus, to model.EventStatus, changes map[string]any) (*model.Event, error)
	CodeInUse(ctx context.Context, tenantID uuid.UUID, code string) (bool, error)
	ActiveEventForReservation(ctx context.Context, reservationID uuid.UUID) (*model.Event, error)
	CreatePenalty(ctx context.Context, p *model.Penalty) error

	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	DeactivateReservation(ctx context.Context, id uuid.UUID) error

	IsDeviceAccessibleToUser(ctx context.Context, deviceID, userID uuid.UUID) (bool, error)
	Record(ctx context.Context, entry model.AuditEntry) error

	UpsertJob(ctx context.Context, job *model.ScheduledJob) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*model.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)
	ClaimJob(ctx context.Context, id, token string, now, leaseUntil time.Time) (string, bool, error)
	CompleteJob(ctx context.Context, id, token string) error
	RescheduleJob(ctx context.Context, id, token string, next time.Time) error

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]model.PushSubscription, error)
}

// DeviceSelector picks candidate devices by placement instead of by id.
type DeviceSelector struct {
	TenantID   uuid.UUID
	LocationID uuid.UUID
	SizeID     uuid.NullUUID
	Mode       model.Mode
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for callers that share it.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}
