package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/model"
)

// Reserve flips a device from available to reserved in a single conditional
// UPDATE. Zero affected rows means the device is taken, in maintenance, or
// not the tenant's.
func (s *gormStore) Reserve(ctx context.Context, deviceID, tenantID uuid.UUID) (*model.Device, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ? AND tenant_id = ? AND status = ?", deviceID, tenantID, model.DeviceAvailable).
		Update("status", model.DeviceReserved)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reserve device %s: %w", deviceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrNotAvailable
	}
	return s.GetDevice(ctx, deviceID)
}

// Release returns a reserved device to available. A nil tenantID is used by
// system-triggered releases.
func (s *gormStore) Release(ctx context.Context, deviceID uuid.UUID, tenantID *uuid.UUID) (*model.Device, error) {
	q := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ? AND status = ?", deviceID, model.DeviceReserved)
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	res := q.Update("status", model.DeviceAvailable)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to release device %s: %w", deviceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrAlreadyAvailable
	}
	return s.GetDevice(ctx, deviceID)
}

func (s *gormStore) GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	var d model.Device
	if err := s.db.WithContext(ctx).Take(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("device %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load device %s: %w", id, err)
	}
	return &d, nil
}

// SelectDevice returns the least used available device matching sel. Ties
// break on id so concurrent callers agree on the order.
func (s *gormStore) SelectDevice(ctx context.Context, sel DeviceSelector) (*model.Device, error) {
	var d model.Device
	err := s.selectorQuery(ctx, sel).
		Order("transaction_count ASC").
		Order("id ASC").
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNoDeviceAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select device: %w", err)
	}
	return &d, nil
}

// ListAvailable lists every available device matching sel.
func (s *gormStore) ListAvailable(ctx context.Context, sel DeviceSelector) ([]model.Device, error) {
	var devices []model.Device
	if err := s.selectorQuery(ctx, sel).Order("name ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *gormStore) selectorQuery(ctx context.Context, sel DeviceSelector) *gorm.DB {
	q := s.db.WithContext(ctx).
		Where("location_id = ? AND status = ?", sel.LocationID, model.DeviceAvailable)
	if sel.TenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", sel.TenantID)
	}
	if sel.SizeID.Valid {
		q = q.Where("size_id = ?", sel.SizeID.UUID)
	}
	if sel.Mode != "" {
		q = q.Where("mode = ?", sel.Mode)
	}
	return q
}

// SetLockStatus records the last known physical state of a device's lock.
func (s *gormStore) SetLockStatus(ctx context.Context, deviceID uuid.UUID, status model.LockStatus) error {
	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", deviceID).
		Update("lock_status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to set lock status of device %s: %w", deviceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %s: %w", deviceID, model.ErrNotFound)
	}
	return nil
}

// DevicesByHardwareKind lists every device driven by the given integration.
func (s *gormStore) DevicesByHardwareKind(ctx context.Context, kind model.HardwareKind) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("hardware_kind = ?", kind).Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", kind, err)
	}
	return devices, nil
}
