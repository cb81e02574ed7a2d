package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/model"
)

// CreateEvent inserts the event and bumps its device's transaction counter
// in one transaction.
func (s *gormStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		if err := tx.Model(&model.Device{}).
			Where("id = ?", ev.DeviceID).
			UpdateColumn("transaction_count", gorm.Expr("transaction_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to bump transaction count of device %s: %w", ev.DeviceID, err)
		}
		return nil
	})
}

func (s *gormStore) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	var ev model.Event
	if err := s.db.WithContext(ctx).Take(&ev, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return &ev, nil
}

// TransitionEvent moves an event to `to` only while its status is one of
// `from`. If no row matched, someone else moved the event first and
// ErrInvalidTransition is returned.
func (s *gormStore) TransitionEvent(ctx context.Context, id uuid.UUID, from []model.EventStatus, to model.EventStatus, changes map[string]any) (*model.Event, error) {
	updates := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		updates[k] = v
	}
	updates["event_status"] = to

	res := s.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("id = ? AND event_status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to move event %s to %s: %w", id, to, res.Error)
	}

	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return ev, fmt.Errorf("event %s is %s, cannot move to %s: %w", id, ev.Status, to, model.ErrInvalidTransition)
	}
	return ev, nil
}

// CodeInUse reports whether a non-terminal event of the tenant holds code.
func (s *gormStore) CodeInUse(ctx context.Context, tenantID uuid.UUID, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("tenant_id = ? AND code = ? AND event_status NOT IN ?", tenantID, code, model.TerminalStatuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return count > 0, nil
}

// ActiveEventForReservation returns the non-terminal event opened by a
// reservation window.
func (s *gormStore) ActiveEventForReservation(ctx context.Context, reservationID uuid.UUID) (*model.Event, error) {
	var ev model.Event
	err := s.db.WithContext(ctx).
		Where("reservation_id = ? AND event_status NOT IN ?", reservationID.String(), model.TerminalStatuses).
		Order("started_at DESC").
		Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active event for reservation %s: %w", reservationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event for reservation %s: %w", reservationID, err)
	}
	return &ev, nil
}

func (s *gormStore) CreatePenalty(ctx context.Context, p *model.Penalty) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to record penalty for event %s: %w", p.EventID, err)
	}
	return nil
}
