// Package pricing computes what an event costs once its usage window closes.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"locker-reservation-backend/internal/model"
)

// ErrUnsupportedPriceUnit is returned when a policy's unit cannot price the
// event's mode, such as a weight unit on a storage device.
var ErrUnsupportedPriceUnit = errors.New("price unit not supported for this mode")

var unitDurations = map[model.PriceUnit]time.Duration{
	model.UnitMinute: time.Minute,
	model.UnitHour:   time.Hour,
	model.UnitDay:    24 * time.Hour,
	model.UnitWeek:   7 * 24 * time.Hour,
}

// Input describes the usage being priced.
type Input struct {
	Policy     model.PricePolicy
	Mode       model.Mode
	Elapsed    time.Duration
	Weight     float64
	LocationID uuid.UUID
	Promo      *model.Promo
	Membership *model.Membership
}

// Quote is the result of a price computation. Amounts are in the policy's
// currency, rounded half away from zero to the cent.
type Quote struct {
	Base   decimal.Decimal
	Amount decimal.Decimal
	// Free is set when no payment should be captured.
	Free              bool
	PromoApplied      bool
	MembershipApplied bool
	// ConsumesMembershipUse is set when a limited membership waived the charge
	// and one of its uses must be spent.
	ConsumesMembershipUse bool
}

// Compute prices a usage window. Amounts below minimumCharge are free.
func Compute(in Input, minimumCharge decimal.Decimal) (Quote, error) {
	base, err := baseAmount(in)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Base: base, Amount: base}
	if !in.Policy.Amount.IsPositive() {
		q.Base, q.Amount, q.Free = decimal.Zero, decimal.Zero, true
		return q, nil
	}

	if p := in.Promo; p != nil && p.Active {
		q.Amount = discount(q.Amount, p.DiscountType, p.Amount)
		q.PromoApplied = true
	}

	if m := in.Membership; m != nil && m.Active && m.Covers(in.LocationID) {
		switch m.Kind {
		case model.MembershipUnlimited:
			q.Amount = decimal.Zero
			q.MembershipApplied = true
		case model.MembershipLimited:
			if m.UsesRemaining > 0 && q.Amount.IsPositive() {
				q.Amount = decimal.Zero
				q.MembershipApplied = true
				q.ConsumesMembershipUse = true
			}
		case model.MembershipDiscount:
			q.Amount = discount(q.Amount, m.DiscountType, m.DiscountAmount)
			q.MembershipApplied = true
		}
	}

	if !q.Amount.IsPositive() || q.Amount.LessThan(minimumCharge) {
		q.Amount = decimal.Zero
		q.Free = true
	}
	return q, nil
}

func baseAmount(in Input) (decimal.Decimal, error) {
	p := in.Policy
	switch p.Unit {
	case model.UnitPound, model.UnitKilo:
		if in.Mode != model.ModeService {
			return decimal.Zero, fmt.Errorf("%w: %s on %s", ErrUnsupportedPriceUnit, p.Unit, in.Mode)
		}
		weight := decimal.NewFromFloat(in.Weight)
		if weight.IsNegative() {
			weight = decimal.Zero
		}
		return roundCents(p.Amount.Mul(weight)), nil
	}

	unit, ok := unitDurations[p.Unit]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedPriceUnit, p.Unit)
	}
	// A vend is one item whatever the time between start and confirmation.
	if in.Mode == model.ModeVending {
		return roundCents(p.Amount), nil
	}

	units := decimal.NewFromInt(int64(in.Elapsed)).Div(decimal.NewFromInt(int64(unit)))
	if units.IsNegative() {
		units = decimal.Zero
	}
	if p.Prorated {
		return roundCents(p.Amount.Mul(units)), nil
	}
	return roundCents(p.Amount.Mul(decimal.Max(decimal.NewFromInt(1), units.Ceil()))), nil
}

func discount(amount decimal.Decimal, kind model.DiscountType, value decimal.Decimal) decimal.Decimal {
	switch kind {
	case model.DiscountFixed:
		amount = amount.Sub(value)
	case model.DiscountPercent:
		amount = amount.Sub(amount.Mul(value).Div(hundred))
	}
	return decimal.Max(decimal.Zero, roundCents(amount))
}

var hundred = decimal.NewFromInt(100)

func roundCents(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
