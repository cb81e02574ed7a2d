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
	"locker-reservation-backend/internal/payment"
	"locker-reservation-backend/internal/pricing"
	"locker-reservation-backend/internal/scheduler"
)

// ConfirmRequest carries the payment method chosen by the user.
type ConfirmRequest struct {
	PaymentMethod string
	Actor         string
}

// Confirm settles the payment setup of an event awaiting it and moves it
// to its mode's working state. On a delivery waiting for pickup it
// confirms the drop-off and messages the recipient.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, req ConfirmRequest) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case ev.Status == model.StatusAwaitingUserPickup && ev.Type == model.ModeDelivery:
		return s.confirmDropOff(ctx, ev, req.Actor)
	case ev.Status != model.StatusAwaitingPaymentConfirmation:
		return ev, invalid(ev, "confirm")
	}

	if ev.SetupHandle.Valid {
		if err := s.payments.VerifySetup(ctx, ev.SetupHandle.String); err != nil {
			return ev, paymentError("verify payment setup", err)
		}
	}
	changes := map[string]any{}
	if req.PaymentMethod != "" {
		changes["payment_method"] = req.PaymentMethod
		ev.PaymentMethod = null.StringFrom(req.PaymentMethod)
	}

	if ev.Type == model.ModeVending {
		done, err := s.settle(ctx, ev, model.StatusFinished, changes)
		if err != nil {
			return done, err
		}
		s.finalize(ctx, done, "confirm", req.Actor)
		return done, s.unlock(ctx, done)
	}

	next := model.StatusInProgress
	switch ev.Type {
	case model.ModeService:
		next = model.StatusAwaitingServicePickup
	case model.ModeDelivery:
		next = model.StatusAwaitingUserPickup
	}
	if next == model.StatusInProgress {
		// Timed usage is billed from the moment the device is handed over.
		changes["started_at"] = s.now()
	}

	moved, err := s.transition(ctx, ev, []model.EventStatus{model.StatusAwaitingPaymentConfirmation}, next, changes)
	if err != nil {
		return moved, err
	}
	if err := s.scheduler.Cancel(ctx, parse.JobID(ev.ID, parse.RolePrimary)); err != nil {
		s.log.Error("failed to cancel auto-cancel job", zap.String("event_id", ev.ID.String()), zap.Error(err))
	}
	s.notify(moved)

	if next == model.StatusInProgress {
		s.audit(ctx, moved, "confirm", req.Actor)
		return moved, s.unlock(ctx, moved)
	}
	return moved, nil
}

func (s *Service) confirmDropOff(ctx context.Context, ev *model.Event, actor string) (*model.Event, error) {
	moved, err := s.transition(ctx, ev, []model.EventStatus{model.StatusAwaitingUserPickup}, model.StatusAwaitingUserPickup, nil)
	if err != nil {
		return moved, err
	}
	s.audit(ctx, moved, "drop_off", actor)
	s.notify(moved)
	s.message(moved, notification.TemplateParcelArrived, nil)
	return moved, nil
}

// Complete prices and settles an event, then releases its device. A failed
// charge leaves the event where it was.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !completable(ev) {
		return ev, invalid(ev, "complete")
	}

	done, err := s.settle(ctx, ev, model.StatusFinished, nil)
	if err != nil {
		return done, err
	}
	s.finalize(ctx, done, "complete", actor)

	if ev.Status == model.StatusAwaitingUserPickup && (ev.Type == model.ModeDelivery || ev.Type == model.ModeService) {
		return done, s.unlock(ctx, done)
	}
	return done, nil
}

func completable(ev *model.Event) bool {
	switch ev.Status {
	case model.StatusAwaitingUserPickup, model.StatusReserved:
		return true
	case model.StatusInProgress:
		return ev.Type.Timed()
	}
	return false
}

// CancelRequest cancels an event now, or at At when it lies in the future.
// Timed usage is billed unless NoCharge is set.
type CancelRequest struct {
	At       *time.Time
	NoCharge bool
	Actor    string

	// from restricts the states a scheduled cancel still applies to.
	from []model.EventStatus
	auto bool
}

// Cancel ends a live event. Timed usage in progress is billed for the time
// used unless the request waives it; everything else is canceled without a
// charge.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status.Terminal() || ev.Status == model.StatusTransactionInProgress {
		return ev, invalid(ev, "cancel")
	}
	if len(req.from) > 0 && !ev.Status.In(req.from...) {
		return ev, invalid(ev, "cancel")
	}

	if req.At != nil && req.At.After(s.now()) {
		err := s.scheduler.Schedule(ctx, parse.JobID(ev.ID, parse.RoleCancel), scheduler.FireSpec{At: *req.At}, TransitionCancel, jobArgs{
			EventID:  ev.ID,
			NoCharge: req.NoCharge,
		})
		if err != nil {
			return ev, fmt.Errorf("failed to schedule cancel of event %s: %w", ev.ID, err)
		}
		return ev, nil
	}

	var done *model.Event
	if !req.NoCharge && ev.Type.Timed() && ev.Status.In(model.StatusInProgress, model.StatusAwaitingUserPickup) {
		done, err = s.settle(ctx, ev, model.StatusCanceled, nil)
	} else {
		done, err = s.transition(ctx, ev, []model.EventStatus{ev.Status}, model.StatusCanceled, map[string]any{"ended_at": s.now()})
	}
	if err != nil {
		return done, err
	}
	s.finalize(ctx, done, "cancel", req.Actor)

	template := notification.TemplateEventCanceled
	if req.auto {
		template = notification.TemplateAutoCanceled
	}
	s.message(done, template, nil)
	return done, nil
}

// CancelResult is the outcome of one cancel in a batch.
type CancelResult struct {
	EventID uuid.UUID    `json:"event_id"`
	Event   *model.Event `json:"event,omitempty"`
	Err     error        `json:"-"`
	Error   string       `json:"error,omitempty"`
}

// CancelMany cancels each event independently and reports every outcome.
func (s *Service) CancelMany(ctx context.Context, ids []uuid.UUID, charge bool, actor string) []CancelResult {
	results := make([]CancelResult, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Cancel(ctx, id, CancelRequest{NoCharge: !charge, Actor: actor})
		r := CancelResult{EventID: id, Event: ev, Err: err}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// Expire ends a parcel nobody picked up. The device is released but not
// opened.
func (s *Service) Expire(ctx context.Context, id uuid.UUID, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	from := []model.EventStatus{model.StatusAwaitingUserPickup, model.StatusAwaitingServiceDropoff}
	if !ev.Status.In(from...) {
		return ev, invalid(ev, "expire")
	}

	done, err := s.transition(ctx, ev, from, model.StatusExpired, map[string]any{"ended_at": s.now()})
	if err != nil {
		return done, err
	}
	s.finalize(ctx, done, "expire", actor)
	s.message(done, notification.TemplateParcelExpired, nil)
	return done, nil
}

var serviceSteps = map[model.EventStatus]model.EventStatus{
	model.StatusAwaitingServicePickup:  model.StatusInProgress,
	model.StatusInProgress:             model.StatusAwaitingServiceDropoff,
	model.StatusAwaitingServiceDropoff: model.StatusAwaitingUserPickup,
}

// AdvanceService moves a service order one step along pickup, processing,
// drop-off and ready. The weight, when given, is recorded on the last step
// and prices weight-based policies.
func (s *Service) AdvanceService(ctx context.Context, id uuid.UUID, weight *float64, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	next, ok := serviceSteps[ev.Status]
	if ev.Type != model.ModeService || !ok {
		return ev, invalid(ev, "advance")
	}

	changes := map[string]any{}
	if weight != nil && next == model.StatusAwaitingUserPickup {
		if *weight < 0 {
			return ev, fmt.Errorf("%w: negative weight", ErrInvalidRequest)
		}
		changes["weight"] = *weight
	}

	moved, err := s.transition(ctx, ev, []model.EventStatus{ev.Status}, next, changes)
	if err != nil {
		return moved, err
	}
	s.audit(ctx, moved, "advance", actor)
	s.notify(moved)

	if next == model.StatusAwaitingUserPickup {
		org, err := s.catalog.Organization(ctx, moved.TenantID)
		if err == nil {
			err = s.scheduleExpire(ctx, moved, org, s.now())
		}
		if err != nil {
			s.log.Error("failed to register expiration", zap.String("event_id", moved.ID.String()), zap.Error(err))
		}
		s.message(moved, notification.TemplateServiceReady, nil)
	}
	return moved, nil
}

// RegenerateCode replaces the pickup code of a waiting parcel and restarts
// its expiration from now.
func (s *Service) RegenerateCode(ctx context.Context, id uuid.UUID, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != model.StatusAwaitingUserPickup || (ev.Type != model.ModeDelivery && ev.Type != model.ModeService) {
		return ev, invalid(ev, "regenerate code")
	}

	code, err := s.generateCode(ctx, ev.TenantID)
	if err != nil {
		return ev, err
	}
	moved, err := s.transition(ctx, ev, []model.EventStatus{model.StatusAwaitingUserPickup}, model.StatusAwaitingUserPickup, map[string]any{"code": code})
	if err != nil {
		return moved, err
	}

	org, err := s.catalog.Organization(ctx, moved.TenantID)
	if err != nil {
		return moved, err
	}
	if err := s.scheduleExpire(ctx, moved, org, s.now()); err != nil {
		return moved, err
	}
	s.audit(ctx, moved, "regenerate_code", actor)
	s.message(moved, notification.TemplateCodeIssued, nil)
	return moved, nil
}

// Unlock retries the hardware dispatch of a live or just finished event.
// It never changes the event.
func (s *Service) Unlock(ctx context.Context, id uuid.UUID, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status.Terminal() && ev.Status != model.StatusFinished {
		return ev, invalid(ev, "unlock")
	}
	s.audit(ctx, ev, "unlock", actor)
	return ev, s.unlock(ctx, ev)
}

// settle prices the event and moves it to `to`. A chargeable amount is
// captured while the event sits in transaction_in_progress; if the charge
// fails the event returns to its previous state.
func (s *Service) settle(ctx context.Context, ev *model.Event, to model.EventStatus, changes map[string]any) (*model.Event, error) {
	now := s.now()
	quote, err := s.quote(ctx, ev, now)
	if err != nil {
		return ev, err
	}

	final := map[string]any{"ended_at": now, "total": quote.Amount}
	for k, v := range changes {
		final[k] = v
	}
	from := []model.EventStatus{ev.Status}

	if quote.Free {
		done, err := s.transition(ctx, ev, from, to, final)
		if err != nil {
			return done, err
		}
		if quote.ConsumesMembershipUse && ev.MembershipID.Valid {
			if err := s.catalog.ConsumeMembershipUse(ctx, refID(ev.MembershipID)); err != nil {
				s.log.Warn("failed to consume membership use", zap.String("event_id", ev.ID.String()), zap.Error(err))
			}
		}
		return done, nil
	}

	held, err := s.transition(ctx, ev, from, model.StatusTransactionInProgress, map[string]any{"total": quote.Amount})
	if err != nil {
		return held, err
	}

	receipt, err := s.payments.Charge(ctx, payment.ChargeRequest{
		Customer:       ev.UserID,
		Amount:         quote.Amount,
		Currency:       ev.Currency,
		PaymentMethod:  ev.PaymentMethod.String,
		SetupHandle:    ev.SetupHandle.String,
		IdempotencyKey: ev.ID.String() + ":" + string(to),
	})
	if err != nil {
		reverted, rerr := s.transition(ctx, held, []model.EventStatus{model.StatusTransactionInProgress}, ev.Status, map[string]any{"total": ev.Total})
		if rerr != nil {
			s.log.Error("failed to revert event after failed charge",
				zap.String("event_id", ev.ID.String()),
				zap.NamedError("charge_error", err),
				zap.Error(rerr))
			return held, paymentError("charge", err)
		}
		return reverted, paymentError("charge", err)
	}

	final["payment_ref"] = receipt.Ref
	done, err := s.transition(ctx, held, []model.EventStatus{model.StatusTransactionInProgress}, to, final)
	if err != nil {
		return done, err
	}
	s.message(done, notification.TemplateReceipt, map[string]string{
		"amount":   formatAmount(receipt.Amount),
		"currency": receipt.Currency,
	})
	return done, nil
}

// quote prices the event's usage up to now. Events without a price policy
// are free.
func (s *Service) quote(ctx context.Context, ev *model.Event, now time.Time) (pricing.Quote, error) {
	if !ev.PricePolicyID.Valid {
		return pricing.Quote{Free: true}, nil
	}
	policy, err := s.catalog.PricePolicy(ctx, refID(ev.PricePolicyID))
	if err != nil {
		return pricing.Quote{}, err
	}

	in := pricing.Input{
		Policy:     *policy,
		Mode:       ev.Type,
		Elapsed:    now.Sub(ev.StartedAt),
		Weight:     ev.Weight.Float64,
		LocationID: ev.LocationID,
	}
	// A promo or membership removed since the event started no longer applies.
	if ev.PromoID.Valid {
		promo, err := s.catalog.Promo(ctx, refID(ev.PromoID))
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return pricing.Quote{}, err
		case promo.TenantID == ev.TenantID:
			in.Promo = promo
		}
	}
	if ev.MembershipID.Valid {
		m, err := s.catalog.Membership(ctx, refID(ev.MembershipID))
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return pricing.Quote{}, err
		case m.TenantID == ev.TenantID && m.UserID == ev.UserID:
			in.Membership = m
		}
	}
	return pricing.Compute(in, s.cfg.MinimumCharge)
}

func invalid(ev *model.Event, op string) error {
	return fmt.Errorf("cannot %s event %s in state %s: %w", op, ev.ID, ev.Status, model.ErrInvalidTransition)
}

// refID parses a stored reference. A malformed one yields uuid.Nil, which
// matches no catalog row.
func refID(ref null.String) uuid.UUID {
	id, err := uuid.Parse(ref.String)
	if err != nil {
		return uuid.Nil
	}
	return id
}
