package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"locker-reservation-backend/internal/model"
)

// IsDeviceAccessibleToUser allows any user on an unrestricted device and
// only granted users on a restricted one.
func (s *gormStore) IsDeviceAccessibleToUser(ctx context.Context, deviceID, userID uuid.UUID) (bool, error) {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if !device.Restricted {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.DeviceGrant{}).
		Where("device_id = ? AND user_id = ?", deviceID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check grants of device %s: %w", deviceID, err)
	}
	return count > 0, nil
}
