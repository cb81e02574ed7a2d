package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/scheduler"
)

// Transition names jobs are stored with.
const (
	TransitionCancel           = "cancel"
	TransitionExpire           = "expire"
	TransitionReservationBegin = "reservation_begin"
	TransitionReservationEnd   = "reservation_end"
)

const actorScheduler = "scheduler"

type jobArgs struct {
	EventID       uuid.UUID           `json:"event_id"`
	ReservationID uuid.UUID           `json:"reservation_id"`
	NoCharge      bool                `json:"no_charge,omitempty"`
	From          []model.EventStatus `json:"from,omitempty"`
	Auto          bool                `json:"auto,omitempty"`
}

// Registrar binds transition names to functions.
type Registrar interface {
	Register(name string, fn scheduler.TransitionFunc)
}

// RegisterTransitions makes the engine's transitions available to jobs.
// Fired jobs go through the same validation as any caller.
func (s *Service) RegisterTransitions(r Registrar) {
	r.Register(TransitionCancel, func(ctx context.Context, raw json.RawMessage) error {
		args, err := decodeArgs(raw)
		if err != nil {
			return err
		}
		_, err = s.Cancel(ctx, args.EventID, CancelRequest{
			NoCharge: args.NoCharge,
			Actor:    actorScheduler,
			from:     args.From,
			auto:     args.Auto,
		})
		return err
	})
	r.Register(TransitionExpire, func(ctx context.Context, raw json.RawMessage) error {
		args, err := decodeArgs(raw)
		if err != nil {
			return err
		}
		_, err = s.Expire(ctx, args.EventID, actorScheduler)
		return err
	})
	r.Register(TransitionReservationBegin, func(ctx context.Context, raw json.RawMessage) error {
		args, err := decodeArgs(raw)
		if err != nil {
			return err
		}
		return s.beginReservation(ctx, args.ReservationID)
	})
	r.Register(TransitionReservationEnd, func(ctx context.Context, raw json.RawMessage) error {
		args, err := decodeArgs(raw)
		if err != nil {
			return err
		}
		return s.endReservation(ctx, args.ReservationID)
	})
}

// decodeArgs reports corrupt arguments as a precondition failure so the
// job is dropped instead of retried forever.
func decodeArgs(raw json.RawMessage) (jobArgs, error) {
	var args jobArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("corrupt job arguments: %v: %w", err, model.ErrNotFound)
	}
	return args, nil
}

func (s *Service) beginReservation(ctx context.Context, id uuid.UUID) error {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if !r.Active {
		return fmt.Errorf("reservation %s is inactive: %w", id, model.ErrNotFound)
	}

	_, err = s.Start(ctx, StartRequest{
		TenantID:      r.TenantID,
		UserID:        r.UserID,
		Type:          r.Type,
		DeviceID:      uuid.NullUUID{UUID: r.DeviceID, Valid: true},
		Actor:         actorScheduler,
		reservationID: uuid.NullUUID{UUID: r.ID, Valid: true},
	})
	if errors.Is(err, model.ErrNotAvailable) || errors.Is(err, model.ErrUnauthorized) {
		// The window is skipped this time; the next occurrence tries again.
		s.log.Warn("reservation window not opened",
			zap.String("reservation_id", id.String()),
			zap.String("device_id", r.DeviceID.String()),
			zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) endReservation(ctx context.Context, id uuid.UUID) error {
	ev, err := s.store.ActiveEventForReservation(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.Complete(ctx, ev.ID, actorScheduler)
	return err
}
