package hardware

import (
	"context"

	"github.com/google/uuid"

	"locker-reservation-backend/internal/model"
)

// LockStatusSetter records a device's lock status.
type LockStatusSetter interface {
	SetLockStatus(ctx context.Context, deviceID uuid.UUID, status model.LockStatus) error
}

// VirtualUnlocker drives devices without a physical lock by flipping
// lock_status to open.
type VirtualUnlocker struct {
	store LockStatusSetter
}

// NewVirtualUnlocker creates a virtual unlocker.
func NewVirtualUnlocker(store LockStatusSetter) *VirtualUnlocker {
	return &VirtualUnlocker{store: store}
}

func (v *VirtualUnlocker) Unlock(ctx context.Context, device *model.Device) error {
	return v.store.SetLockStatus(ctx, device.ID, model.LockOpen)
}
