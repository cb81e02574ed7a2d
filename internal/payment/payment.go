// Package payment abstracts the payment processor the lifecycle engine
// charges, verifies and refunds through.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"locker-reservation-backend/internal/model"
)

// ErrDeclined is returned when the processor rejects a charge or setup.
var ErrDeclined = fmt.Errorf("payment declined: %w", model.ErrPaymentFailed)

// ChargeRequest describes a single charge.
type ChargeRequest struct {
	Customer       uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  string
	SetupHandle    string
	IdempotencyKey string
}

// Receipt is what the processor returns for a successful charge or refund.
type Receipt struct {
	Ref      string
	Amount   decimal.Decimal
	Currency string
}

// Gateway is the payment processor. Implementations return errors wrapping
// model.ErrPaymentFailed for declines.
type Gateway interface {
	// CreateSetupHandle opens a payment setup the user completes out of band.
	CreateSetupHandle(ctx context.Context, customer uuid.UUID) (string, error)
	// VerifySetup reports whether the setup was completed.
	VerifySetup(ctx context.Context, handle string) error
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
	Refund(ctx context.Context, ref string, amount decimal.Decimal) (Receipt, error)
}

// IsDeclined reports whether err is a payment failure rather than an
// infrastructure one.
func IsDeclined(err error) bool {
	return errors.Is(err, model.ErrPaymentFailed)
}
