package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/model"
)

func TestSandbox_SetupAndVerify(t *testing.T) {
	s := NewSandbox(zap.NewNop())
	ctx := context.Background()

	handle, err := s.CreateSetupHandle(ctx, uuid.New())
	require.NoError(t, err)
	assert.NoError(t, s.VerifySetup(ctx, handle))

	err = s.VerifySetup(ctx, "seti_unknown")
	assert.ErrorIs(t, err, model.ErrPaymentFailed)

	s.FailNext("verify", nil)
	assert.True(t, IsDeclined(s.VerifySetup(ctx, handle)))
	assert.NoError(t, s.VerifySetup(ctx, handle), "failure is armed once")
}

func TestSandbox_ChargeIdempotency(t *testing.T) {
	s := NewSandbox(zap.NewNop())
	ctx := context.Background()
	req := ChargeRequest{Customer: uuid.New(), Amount: decimal.RequireFromString("12.50"), Currency: "usd", IdempotencyKey: "ev-1"}

	first, err := s.Charge(ctx, req)
	require.NoError(t, err)
	second, err := s.Charge(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref)
	assert.Len(t, s.Charges(), 1)
}

func TestSandbox_ChargeFailures(t *testing.T) {
	s := NewSandbox(zap.NewNop())
	ctx := context.Background()

	_, err := s.Charge(ctx, ChargeRequest{Amount: decimal.Zero})
	assert.ErrorIs(t, err, model.ErrPaymentFailed)

	infra := errors.New("connection reset")
	s.FailNext("charge", infra)
	_, err = s.Charge(ctx, ChargeRequest{Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, infra)
	assert.False(t, IsDeclined(err))
}

func TestSandbox_Refund(t *testing.T) {
	s := NewSandbox(zap.NewNop())
	ctx := context.Background()

	r, err := s.Charge(ctx, ChargeRequest{Amount: decimal.NewFromInt(10), Currency: "usd"})
	require.NoError(t, err)

	refund, err := s.Refund(ctx, r.Ref, decimal.RequireFromString("3.90"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.90").Equal(refund.Amount))

	_, err = s.Refund(ctx, r.Ref, decimal.RequireFromString("6.11"))
	assert.ErrorIs(t, err, model.ErrPaymentFailed, "only 6.10 remains")

	_, err = s.Refund(ctx, r.Ref, decimal.RequireFromString("6.10"))
	assert.NoError(t, err, "the exact remainder is refundable")

	_, err = s.Refund(ctx, r.Ref, decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, model.ErrPaymentFailed, "nothing remains")

	_, err = s.Refund(ctx, "ch_missing", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, model.ErrPaymentFailed)
}
