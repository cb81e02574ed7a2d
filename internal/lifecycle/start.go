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
	"locker-reservation-backend/internal/notification"
	"locker-reservation-backend/internal/parse"
	"locker-reservation-backend/internal/scheduler"
	"locker-reservation-backend/internal/store"
)

// StartRequest opens an event. Either DeviceID is set, or the device is
// selected by LocationID, SizeID and Type.
type StartRequest struct {
	TenantID      uuid.UUID
	UserID        uuid.UUID
	Type          model.Mode
	DeviceID      uuid.NullUUID
	LocationID    uuid.UUID
	SizeID        uuid.NullUUID
	PromoID       uuid.NullUUID
	MembershipID  uuid.NullUUID
	PaymentMethod string
	OrderID       string
	InvoiceID     string
	Actor         string

	reservationID uuid.NullUUID
}

// Start resolves and locks a device, then persists a new event in its
// initial state and registers its deadline. If the event cannot be
// persisted the lock is released before the error is returned.
//
// A non-nil event with a hardware error means the event was started but
// the device did not open.
func (s *Service) Start(ctx context.Context, req StartRequest) (*model.Event, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, req.Type)
	}
	if req.Actor == "" {
		req.Actor = req.UserID.String()
	}

	device, err := s.acquire(ctx, req)
	if err != nil {
		return nil, err
	}

	ev, org, err := s.open(ctx, req, device)
	if err != nil {
		s.releaseAfterFailure(ctx, device, req.Actor, err)
		return nil, err
	}

	if err := s.registerStartDeadline(ctx, ev, org); err != nil {
		s.log.Error("failed to register deadline, canceling event",
			zap.String("event_id", ev.ID.String()),
			zap.Error(err))
		canceled, cerr := s.transition(ctx, ev, []model.EventStatus{ev.Status}, model.StatusCanceled,
			map[string]any{"ended_at": s.now()})
		if cerr != nil {
			// The event is still live and keeps its device.
			s.log.Error("failed to cancel event after deadline failure, device stays reserved",
				zap.String("event_id", ev.ID.String()),
				zap.String("device_id", ev.DeviceID.String()),
				zap.Error(cerr))
			return nil, fmt.Errorf("failed to register deadline of event %s: %w", ev.ID, err)
		}
		s.finalize(ctx, canceled, "start_compensated", req.Actor)
		return nil, fmt.Errorf("failed to register deadline of event %s: %w", ev.ID, err)
	}

	s.audit(ctx, ev, "start", req.Actor)
	s.notify(ev)
	if ev.Type != model.ModeDelivery && ev.Status != model.StatusReserved {
		s.message(ev, notification.TemplateCodeIssued, map[string]string{"device": device.Name})
	}

	if ev.Status == model.StatusInProgress {
		return ev, s.unlock(ctx, ev)
	}
	return ev, nil
}

// acquire resolves the device and takes its lock. A selected device lost to
// a concurrent start is replaced by the next candidate.
func (s *Service) acquire(ctx context.Context, req StartRequest) (*model.Device, error) {
	for attempt := 1; ; attempt++ {
		device, err := s.resolve(ctx, req)
		if err != nil {
			return nil, err
		}

		ok, err := s.store.IsDeviceAccessibleToUser(ctx, device.ID, req.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("device %s: %w", device.ID, model.ErrUnauthorized)
		}

		reserved, err := s.store.Reserve(ctx, device.ID, req.TenantID)
		if err == nil {
			return reserved, nil
		}
		if !errors.Is(err, model.ErrNotAvailable) || req.DeviceID.Valid || attempt >= s.cfg.SelectAttempts {
			return nil, fmt.Errorf("device %s: %w", device.ID, err)
		}
		s.log.Debug("lost race for selected device",
			zap.String("device_id", device.ID.String()),
			zap.Int("attempt", attempt))
	}
}

func (s *Service) resolve(ctx context.Context, req StartRequest) (*model.Device, error) {
	if req.DeviceID.Valid {
		device, err := s.store.GetDevice(ctx, req.DeviceID.UUID)
		if err != nil {
			return nil, err
		}
		if device.TenantID != req.TenantID {
			return nil, fmt.Errorf("device %s: %w", device.ID, model.ErrNotFound)
		}
		return device, nil
	}
	return s.store.SelectDevice(ctx, store.DeviceSelector{
		TenantID:   req.TenantID,
		LocationID: req.LocationID,
		SizeID:     req.SizeID,
		Mode:       req.Type,
	})
}

// open persists the event on a locked device.
func (s *Service) open(ctx context.Context, req StartRequest, device *model.Device) (*model.Event, *model.Organization, error) {
	org, err := s.catalog.Organization(ctx, req.TenantID)
	if err != nil {
		return nil, nil, err
	}

	var policy *model.PricePolicy
	if device.PricePolicyID.Valid {
		id, err := uuid.Parse(device.PricePolicyID.String)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s has malformed price policy id: %w", device.ID, err)
		}
		if policy, err = s.catalog.PricePolicy(ctx, id); err != nil {
			return nil, nil, err
		}
	}
	priced := policy != nil && policy.Amount.IsPositive()
	reserved := req.reservationID.Valid

	ev := &model.Event{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		DeviceID:   device.ID,
		UserID:     req.UserID,
		LocationID: device.LocationID,
		Type:       req.Type,
		Status:     initialStatus(req.Type, priced, reserved, org),
		Currency:   org.Currency,
		StartedAt:  s.now(),
	}
	if policy != nil {
		ev.PricePolicyID = null.StringFrom(policy.ID.String())
		if policy.Currency != "" {
			ev.Currency = policy.Currency
		}
	}
	if req.PromoID.Valid {
		ev.PromoID = null.StringFrom(req.PromoID.UUID.String())
	}
	if req.MembershipID.Valid {
		ev.MembershipID = null.StringFrom(req.MembershipID.UUID.String())
	}
	if req.reservationID.Valid {
		ev.ReservationID = null.StringFrom(req.reservationID.UUID.String())
	}
	ev.OrderID = null.NewString(req.OrderID, req.OrderID != "")
	ev.InvoiceID = null.NewString(req.InvoiceID, req.InvoiceID != "")
	ev.PaymentMethod = null.NewString(req.PaymentMethod, req.PaymentMethod != "")

	if needsPaymentSetup(req.Type, priced, reserved, org) {
		handle, err := s.payments.CreateSetupHandle(ctx, req.UserID)
		if err != nil {
			return nil, nil, paymentError("payment setup", err)
		}
		ev.SetupHandle = null.StringFrom(handle)
	}

	// The code check and the insert are separate statements; a concurrent
	// start drawing the same code trips the live-code unique index instead.
	for attempt := 1; ; attempt++ {
		code, err := s.generateCode(ctx, req.TenantID)
		if err != nil {
			return nil, nil, err
		}
		ev.Code = code

		err = s.store.CreateEvent(ctx, ev)
		if err == nil {
			return ev, org, nil
		}
		if !isUniqueViolation(err) || attempt >= s.cfg.CodeMaxAttempts {
			return nil, nil, err
		}
	}
}

func (s *Service) registerStartDeadline(ctx context.Context, ev *model.Event, org *model.Organization) error {
	switch {
	case ev.Status == model.StatusAwaitingPaymentConfirmation:
		at := ev.StartedAt.Add(time.Duration(org.AutoCancelMinutes) * time.Minute)
		return s.scheduler.Schedule(ctx, parse.JobID(ev.ID, parse.RolePrimary), scheduler.FireSpec{At: at}, TransitionCancel, jobArgs{
			EventID: ev.ID,
			From:    []model.EventStatus{model.StatusAwaitingPaymentConfirmation},
			Auto:    true,
		})
	case ev.Type == model.ModeDelivery:
		return s.scheduleExpire(ctx, ev, org, ev.StartedAt)
	}
	return nil
}

// scheduleExpire registers, or replaces, the parcel expiration of an event.
func (s *Service) scheduleExpire(ctx context.Context, ev *model.Event, org *model.Organization, from time.Time) error {
	at := from.Add(time.Duration(org.ParcelExpiration) * time.Hour)
	return s.scheduler.Schedule(ctx, parse.JobID(ev.ID, parse.RoleExpire), scheduler.FireSpec{At: at}, TransitionExpire, jobArgs{EventID: ev.ID})
}

func initialStatus(mode model.Mode, priced, reserved bool, org *model.Organization) model.EventStatus {
	switch {
	case reserved:
		return model.StatusReserved
	case mode == model.ModeDelivery:
		return model.StatusAwaitingUserPickup
	case mode == model.ModeVending, mode == model.ModeService:
		return model.StatusAwaitingPaymentConfirmation
	case priced && org.CardOnFileRequired:
		return model.StatusAwaitingPaymentConfirmation
	}
	return model.StatusInProgress
}

func needsPaymentSetup(mode model.Mode, priced, reserved bool, org *model.Organization) bool {
	if reserved || mode == model.ModeDelivery {
		return false
	}
	return mode == model.ModeVending || (priced && (org.CardOnFileRequired || mode == model.ModeService))
}
