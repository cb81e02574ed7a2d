// Package hardware turns "unlock this device" into a kind-specific command.
// It never touches event state; it only reports whether the command was
// accepted.
package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/mw"
)

var (
	// ErrUnsupported is returned for a hardware kind with no registered unlocker.
	ErrUnsupported = fmt.Errorf("%w: unsupported hardware kind", model.ErrHardwareFailed)
	// ErrOffline is returned when the lock is known to be unreachable.
	ErrOffline = fmt.Errorf("%w: device offline", model.ErrHardwareFailed)
	// ErrThrottled is returned when a device gets unlock requests too fast.
	ErrThrottled = fmt.Errorf("%w: too many unlock requests", model.ErrHardwareFailed)
)

// Unlocker opens the lock of one device. Implementations exist per hardware
// kind.
type Unlocker interface {
	Unlock(ctx context.Context, device *model.Device) error
}

// UnlockerFunc adapts a function to the Unlocker interface.
type UnlockerFunc func(ctx context.Context, device *model.Device) error

func (f UnlockerFunc) Unlock(ctx context.Context, device *model.Device) error {
	return f(ctx, device)
}

// Dispatcher routes unlock requests to the unlocker registered for the
// device's hardware kind.
type Dispatcher struct {
	mu        sync.RWMutex
	unlockers map[model.HardwareKind]Unlocker
	limiter   *mw.KeyedRateLimiter
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewDispatcher creates an empty dispatcher. limiter and m may be nil.
func NewDispatcher(log *zap.Logger, limiter *mw.KeyedRateLimiter, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		unlockers: make(map[model.HardwareKind]Unlocker),
		limiter:   limiter,
		timeout:   timeout,
		metrics:   m,
		log:       log,
	}
}

// Register installs u for kind, replacing any previous unlocker.
func (d *Dispatcher) Register(kind model.HardwareKind, u Unlocker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unlockers[kind] = u
}

// Unlock dispatches to the device's unlocker. Every failure wraps
// model.ErrHardwareFailed.
func (d *Dispatcher) Unlock(ctx context.Context, device *model.Device) error {
	kind := device.HardwareKind
	if kind == "" {
		kind = model.HardwareVirtual
	}
	err := d.unlock(ctx, kind, device)
	if d.metrics != nil {
		d.metrics.Unlocks.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()
	}
	if err != nil {
		d.log.Warn("unlock failed",
			zap.String("device_id", device.ID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	return err
}

func (d *Dispatcher) unlock(ctx context.Context, kind model.HardwareKind, device *model.Device) error {
	d.mu.RLock()
	u, ok := d.unlockers[kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	if d.limiter != nil && !d.limiter.Allow(device.ID.String()) {
		return ErrThrottled
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := u.Unlock(ctx, device); err != nil {
		if errors.Is(err, model.ErrHardwareFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrHardwareFailed, err)
	}
	return nil
}

// command is the payload sent to bridge and cloud locks.
type command struct {
	Command   string    `json:"command"`
	RequestID string    `json:"request_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

func unlockPayload(device *model.Device) ([]byte, error) {
	return json.Marshal(command{
		Command:   "unlock",
		RequestID: uuid.NewString(),
		DeviceID:  device.ID,
		IssuedAt:  time.Now().UTC(),
	})
}

// address decodes the device's hardware variant and asserts its type.
func address[T model.Hardware](device *model.Device) (T, error) {
	var zero T
	h, err := device.Hardware()
	if err != nil {
		return zero, err
	}
	v, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("%w: device %s is %s", ErrUnsupported, device.ID, h.Kind())
	}
	return v, nil
}
