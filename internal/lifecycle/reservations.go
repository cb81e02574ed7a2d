package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/parse"
	"locker-reservation-backend/internal/scheduler"
)

// ReservationRequest describes a recurring window, for example
// "mon,wed" from "09:00" to "11:00" in "Europe/Berlin".
type ReservationRequest struct {
	TenantID uuid.UUID
	DeviceID uuid.UUID
	UserID   uuid.UUID
	Type     model.Mode
	Weekdays string
	Start    string
	End      string
	Timezone string
	Until    *time.Time
	Actor    string
}

// CreateReservation stores a recurring window and registers the jobs that
// open and close it. Each opening starts an event in the reserved state.
func (s *Service) CreateReservation(ctx context.Context, req ReservationRequest) (*model.Reservation, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, req.Type)
	}
	days, err := parse.Weekdays(req.Weekdays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start, err := parse.MinuteOfDay(req.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	end, err := parse.MinuteOfDay(req.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if end <= start {
		return nil, fmt.Errorf("%w: window must end after it starts", ErrInvalidRequest)
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	begin := scheduler.Recurrence{Weekdays: days, MinuteOfDay: start, Location: loc}
	if req.Until != nil {
		begin.Until = req.Until.UTC()
	}
	if _, ok := begin.Next(s.now()); !ok {
		return nil, fmt.Errorf("%w: window never opens", ErrInvalidRequest)
	}
	// The last window closes even when Until falls inside it.
	finish := begin
	finish.MinuteOfDay = end
	if !begin.Until.IsZero() {
		finish.Until = begin.Until.Add(time.Duration(end-start) * time.Minute)
	}

	device, err := s.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.TenantID != req.TenantID {
		return nil, fmt.Errorf("device %s: %w", device.ID, model.ErrNotFound)
	}
	ok, err := s.store.IsDeviceAccessibleToUser(ctx, device.ID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("device %s: %w", device.ID, model.ErrUnauthorized)
	}

	r := &model.Reservation{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		DeviceID:    device.ID,
		UserID:      req.UserID,
		Type:        req.Type,
		Weekdays:    parse.FormatWeekdays(days),
		StartMinute: start,
		EndMinute:   end,
		Timezone:    loc.String(),
		Active:      true,
	}
	if req.Until != nil {
		r.Until = null.TimeFrom(req.Until.UTC())
	}
	if err := s.store.CreateReservation(ctx, r); err != nil {
		return nil, err
	}

	args := jobArgs{ReservationID: r.ID}
	err = s.scheduler.Schedule(ctx, parse.JobID(r.ID, parse.RoleBegin), scheduler.FireSpec{Recurrence: &begin}, TransitionReservationBegin, args)
	if err == nil {
		err = s.scheduler.Schedule(ctx, parse.JobID(r.ID, parse.RoleEnd), scheduler.FireSpec{Recurrence: &finish}, TransitionReservationEnd, args)
	}
	if err != nil {
		s.dropReservation(ctx, r.ID)
		return nil, fmt.Errorf("failed to schedule reservation %s: %w", r.ID, err)
	}

	s.log.Info("reservation created",
		zap.String("reservation_id", r.ID.String()),
		zap.String("device_id", r.DeviceID.String()),
		zap.String("weekdays", r.Weekdays))
	s.recordReservation(ctx, r, "reservation_create", req.Actor)
	return r, nil
}

// DeleteReservation deactivates a window, removes its jobs and cancels the
// event of a window currently open.
func (s *Service) DeleteReservation(ctx context.Context, tenantID, id uuid.UUID, actor string) error {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if r.TenantID != tenantID {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err := s.store.DeactivateReservation(ctx, id); err != nil {
		return err
	}
	s.dropReservation(ctx, id)

	ev, err := s.store.ActiveEventForReservation(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return err
	default:
		if _, err := s.Cancel(ctx, ev.ID, CancelRequest{Actor: actor}); err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			return err
		}
	}
	s.recordReservation(ctx, r, "reservation_delete", actor)
	return nil
}

func (s *Service) dropReservation(ctx context.Context, id uuid.UUID) {
	for _, role := range []string{parse.RoleBegin, parse.RoleEnd} {
		if err := s.scheduler.Cancel(ctx, parse.JobID(id, role)); err != nil {
			s.log.Error("failed to cancel reservation job", zap.String("job_id", parse.JobID(id, role)), zap.Error(err))
		}
	}
}

func (s *Service) recordReservation(ctx context.Context, r *model.Reservation, action, actor string) {
	err := s.store.Record(ctx, model.AuditEntry{
		TenantID:  r.TenantID,
		DeviceID:  uuid.NullUUID{UUID: r.DeviceID, Valid: true},
		Action:    action,
		Actor:     actor,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Error("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}
