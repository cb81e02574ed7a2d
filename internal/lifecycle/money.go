package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/notification"
	"locker-reservation-backend/internal/payment"
)

// Refund returns money charged for a settled event. A nil amount refunds
// the whole total. The device lock is not touched.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal, actor string) (*model.Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.Status.In(model.StatusFinished, model.StatusCanceled) || !ev.Total.IsPositive() || !ev.PaymentRef.Valid {
		return ev, invalid(ev, "refund")
	}

	refund := ev.Total
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(ev.Total) {
			return ev, fmt.Errorf("%w: refund amount must be in (0, %s]", ErrInvalidRequest, formatAmount(ev.Total))
		}
		refund = *amount
	}

	receipt, err := s.payments.Refund(ctx, ev.PaymentRef.String, refund)
	if err != nil {
		return ev, paymentError("refund", err)
	}

	done, err := s.transition(ctx, ev, []model.EventStatus{model.StatusFinished, model.StatusCanceled}, model.StatusRefunded,
		map[string]any{"refunded_amount": decimal.NewNullDecimal(receipt.Amount)})
	if err != nil {
		s.log.Error("refund issued but event could not be marked refunded",
			zap.String("event_id", ev.ID.String()),
			zap.String("refund_ref", receipt.Ref),
			zap.Error(err))
		return done, err
	}
	s.audit(ctx, done, "refund", actor)
	s.notify(done)
	s.message(done, notification.TemplateRefund, map[string]string{
		"amount":   formatAmount(receipt.Amount),
		"currency": receipt.Currency,
	})
	return done, nil
}

// PenaltyRequest describes a misuse charge.
type PenaltyRequest struct {
	Amount decimal.Decimal
	Reason string
	Actor  string
}

// Penalize charges the user of a settled event for misuse. The event does
// not change state.
func (s *Service) Penalize(ctx context.Context, id uuid.UUID, req PenaltyRequest) (*model.Penalty, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.Status.In(model.StatusFinished, model.StatusCanceled) {
		return nil, invalid(ev, "penalize")
	}
	if !req.Amount.IsPositive() || req.Reason == "" {
		return nil, fmt.Errorf("%w: a penalty needs a positive amount and a reason", ErrInvalidRequest)
	}

	p := &model.Penalty{
		ID:        uuid.New(),
		TenantID:  ev.TenantID,
		EventID:   ev.ID,
		UserID:    ev.UserID,
		Amount:    req.Amount,
		Currency:  ev.Currency,
		Reason:    req.Reason,
		CreatedAt: s.now(),
	}
	receipt, err := s.payments.Charge(ctx, payment.ChargeRequest{
		Customer:       ev.UserID,
		Amount:         req.Amount,
		Currency:       ev.Currency,
		PaymentMethod:  ev.PaymentMethod.String,
		SetupHandle:    ev.SetupHandle.String,
		IdempotencyKey: "penalty:" + p.ID.String(),
	})
	if err != nil {
		return nil, paymentError("penalty charge", err)
	}
	p.PaymentRef = receipt.Ref

	if err := s.store.CreatePenalty(ctx, p); err != nil {
		s.log.Error("penalty charged but not recorded",
			zap.String("event_id", ev.ID.String()),
			zap.String("payment_ref", receipt.Ref),
			zap.Error(err))
		return nil, err
	}
	s.audit(ctx, ev, "penalize", req.Actor)
	s.message(ev, notification.TemplatePenalty, map[string]string{
		"amount":   formatAmount(req.Amount),
		"currency": ev.Currency,
		"reason":   req.Reason,
	})
	return p, nil
}
