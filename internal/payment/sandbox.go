package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sandbox is an in-process Gateway. Every setup verifies and every charge
// succeeds unless a failure is armed with FailNext. Charges sharing an
// idempotency key return the first receipt.
type Sandbox struct {
	log *zap.Logger

	mu       sync.Mutex
	setups   map[string]uuid.UUID
	receipts map[string]Receipt
	charges  map[string]Receipt
	refunded map[string]decimal.Decimal
	failNext map[string]error
}

// NewSandbox returns an empty sandbox.
func NewSandbox(log *zap.Logger) *Sandbox {
	return &Sandbox{
		log:      log,
		setups:   make(map[string]uuid.UUID),
		receipts: make(map[string]Receipt),
		charges:  make(map[string]Receipt),
		refunded: make(map[string]decimal.Decimal),
		failNext: make(map[string]error),
	}
}

// FailNext arms err for the next call to op ("setup", "verify", "charge" or
// "refund"). A nil err arms ErrDeclined.
func (s *Sandbox) FailNext(op string, err error) {
	if err == nil {
		err = ErrDeclined
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

func (s *Sandbox) armed(op string) error {
	err := s.failNext[op]
	delete(s.failNext, op)
	return err
}

func (s *Sandbox) CreateSetupHandle(_ context.Context, customer uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.armed("setup"); err != nil {
		return "", err
	}
	handle := "seti_" + uuid.NewString()
	s.setups[handle] = customer
	return handle, nil
}

func (s *Sandbox) VerifySetup(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.armed("verify"); err != nil {
		return err
	}
	if _, ok := s.setups[handle]; !ok {
		return fmt.Errorf("unknown setup %q: %w", handle, ErrDeclined)
	}
	return nil
}

func (s *Sandbox) Charge(_ context.Context, req ChargeRequest) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return r, nil
	}
	if err := s.armed("charge"); err != nil {
		return Receipt{}, err
	}
	if !req.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("charge amount %s: %w", req.Amount.StringFixed(2), ErrDeclined)
	}
	r := Receipt{Ref: "ch_" + uuid.NewString(), Amount: req.Amount, Currency: req.Currency}
	s.receipts[r.Ref] = r
	if req.IdempotencyKey != "" {
		s.charges[req.IdempotencyKey] = r
	}
	s.log.Debug("sandbox charge",
		zap.String("ref", r.Ref),
		zap.Stringer("amount", r.Amount),
		zap.String("customer", req.Customer.String()))
	return r, nil
}

// Refund refunds up to the unrefunded remainder of a charge.
func (s *Sandbox) Refund(_ context.Context, ref string, amount decimal.Decimal) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.armed("refund"); err != nil {
		return Receipt{}, err
	}
	orig, ok := s.receipts[ref]
	if !ok {
		return Receipt{}, fmt.Errorf("unknown charge %q: %w", ref, ErrDeclined)
	}
	if !amount.IsPositive() || amount.GreaterThan(orig.Amount.Sub(s.refunded[ref])) {
		return Receipt{}, fmt.Errorf("refund of %s exceeds remainder of %s: %w", amount.StringFixed(2), ref, ErrDeclined)
	}
	s.refunded[ref] = s.refunded[ref].Add(amount)
	return Receipt{Ref: "re_" + uuid.NewString(), Amount: amount, Currency: orig.Currency}, nil
}

// Charges returns the receipts of every charge made so far.
func (s *Sandbox) Charges() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, r)
	}
	return out
}
