// Package lifecycle drives events through their state machine. It holds
// the resource lock while an event is live, prices and charges the usage,
// dispatches unlocks, and registers the deadlines the scheduler enforces.
//
// Every state change is a status-guarded update, so a user request and a
// scheduler fire racing on the same event cannot both win.
package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/hardware"
	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/parse"
	"locker-reservation-backend/internal/payment"
	"locker-reservation-backend/internal/scheduler"
	"locker-reservation-backend/internal/store"
)

// ErrInvalidRequest is returned for malformed arguments.
var ErrInvalidRequest = errors.New("invalid request")

// Catalog is the read-only view of pricing and organization settings.
type Catalog interface {
	Organization(ctx context.Context, tenantID uuid.UUID) (*model.Organization, error)
	PricePolicy(ctx context.Context, id uuid.UUID) (*model.PricePolicy, error)
	Promo(ctx context.Context, id uuid.UUID) (*model.Promo, error)
	Membership(ctx context.Context, id uuid.UUID) (*model.Membership, error)
	ConsumeMembershipUse(ctx context.Context, id uuid.UUID) error
}

// Notifier emits the asynchronous side effects of a transition.
type Notifier interface {
	Notify(tenantID, eventID uuid.UUID, status model.EventStatus)
	SendMessage(userID uuid.UUID, template string, args map[string]string)
}

// Config holds the engine settings not owned by an organization.
type Config struct {
	CodeDigits      int
	CodeMaxAttempts int
	MinimumCharge   decimal.Decimal
	// SelectAttempts bounds how often Start picks another device after
	// losing the lock race on a selected one.
	SelectAttempts int
}

// Deps are the collaborators of the engine.
type Deps struct {
	Store     store.Store
	Catalog   Catalog
	Scheduler scheduler.Scheduler
	Payments  payment.Gateway
	Unlocker  hardware.Unlocker
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	// Now and NewCode default to the wall clock and a crypto/rand code.
	Now     func() time.Time
	NewCode func(digits int) (string, error)
}

// Service is the event state machine.
type Service struct {
	cfg       Config
	store     store.Store
	catalog   Catalog
	scheduler scheduler.Scheduler
	payments  payment.Gateway
	unlocker  hardware.Unlocker
	notifier  Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	newCode   func(digits int) (string, error)
}

// NewService creates the engine.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.CodeDigits <= 0 {
		cfg.CodeDigits = 6
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 10
	}
	if cfg.SelectAttempts <= 0 {
		cfg.SelectAttempts = 3
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		catalog:   deps.Catalog,
		scheduler: deps.Scheduler,
		payments:  deps.Payments,
		unlocker:  deps.Unlocker,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		log:       deps.Log,
		now:       deps.Now,
		newCode:   deps.NewCode,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newCode == nil {
		s.newCode = randomCode
	}
	return s
}

// Get returns the read projection of an event.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// Availability lists the available devices at a location.
func (s *Service) Availability(ctx context.Context, sel store.DeviceSelector) ([]model.Device, error) {
	return s.store.ListAvailable(ctx, sel)
}

// transition applies a guarded status change and logs it.
func (s *Service) transition(ctx context.Context, ev *model.Event, from []model.EventStatus, to model.EventStatus, changes map[string]any) (*model.Event, error) {
	next, err := s.store.TransitionEvent(ctx, ev.ID, from, to, changes)
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(to), metrics.Outcome(err)).Inc()
	}
	if err != nil {
		return next, err
	}
	s.log.Info("event transition",
		zap.String("event_id", ev.ID.String()),
		zap.String("tenant_id", ev.TenantID.String()),
		zap.String("device_id", ev.DeviceID.String()),
		zap.String("from", string(ev.Status)),
		zap.String("to", string(to)))
	return next, nil
}

// finalize runs the side effects owed by a transition into a terminal
// state: release the lock, drop every deadline, audit and notify. Release
// and job cancellation are idempotent, so a racing caller that already did
// them is harmless.
func (s *Service) finalize(ctx context.Context, ev *model.Event, action, actor string) {
	if _, err := s.store.Release(ctx, ev.DeviceID, &ev.TenantID); err != nil && !errors.Is(err, model.ErrAlreadyAvailable) {
		s.log.Error("failed to release device",
			zap.String("event_id", ev.ID.String()),
			zap.String("device_id", ev.DeviceID.String()),
			zap.Error(err))
	}
	s.cancelDeadlines(ctx, ev.ID)
	s.audit(ctx, ev, action, actor)
	s.notify(ev)
}

func (s *Service) cancelDeadlines(ctx context.Context, eventID uuid.UUID) {
	for _, role := range []string{parse.RolePrimary, parse.RoleExpire, parse.RoleCancel} {
		if err := s.scheduler.Cancel(ctx, parse.JobID(eventID, role)); err != nil {
			s.log.Error("failed to cancel job", zap.String("job_id", parse.JobID(eventID, role)), zap.Error(err))
		}
	}
}

func (s *Service) audit(ctx context.Context, ev *model.Event, action, actor string) {
	err := s.store.Record(ctx, model.AuditEntry{
		TenantID:  ev.TenantID,
		DeviceID:  uuid.NullUUID{UUID: ev.DeviceID, Valid: true},
		EventID:   uuid.NullUUID{UUID: ev.ID, Valid: true},
		Action:    action,
		Actor:     actor,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Error("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) notify(ev *model.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev.TenantID, ev.ID, ev.Status)
	}
}

func (s *Service) message(ev *model.Event, template string, args map[string]string) {
	if s.notifier == nil {
		return
	}
	if args == nil {
		args = map[string]string{}
	}
	if _, ok := args["code"]; !ok {
		args["code"] = ev.Code
	}
	if _, ok := args["device"]; !ok {
		args["device"] = ev.DeviceID.String()
	}
	s.notifier.SendMessage(ev.UserID, template, args)
}

// unlock asks the device's hardware to open. The returned error is
// reported to the caller but never undoes the transition.
func (s *Service) unlock(ctx context.Context, ev *model.Event) error {
	device, err := s.store.GetDevice(ctx, ev.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrHardwareFailed, err)
	}
	return s.unlocker.Unlock(ctx, device)
}

// releaseAfterFailure undoes a reserve whose event was never persisted.
func (s *Service) releaseAfterFailure(ctx context.Context, device *model.Device, actor string, cause error) {
	if _, err := s.store.Release(ctx, device.ID, &device.TenantID); err != nil && !errors.Is(err, model.ErrAlreadyAvailable) {
		s.log.Error("failed to release device after failed start",
			zap.String("device_id", device.ID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	if err := s.store.Record(ctx, model.AuditEntry{
		TenantID:  device.TenantID,
		DeviceID:  uuid.NullUUID{UUID: device.ID, Valid: true},
		Action:    "release_after_failed_start",
		Actor:     actor,
		CreatedAt: s.now(),
	}); err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
}

// generateCode draws a code that no live event of the tenant holds.
func (s *Service) generateCode(ctx context.Context, tenantID uuid.UUID) (string, error) {
	for attempt := 0; attempt < s.cfg.CodeMaxAttempts; attempt++ {
		code, err := s.newCode(s.cfg.CodeDigits)
		if err != nil {
			return "", err
		}
		inUse, err := s.store.CodeInUse(ctx, tenantID, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("%d attempts: %w", s.cfg.CodeMaxAttempts, model.ErrCodeGenerationExhausted)
}

func randomCode(digits int) (string, error) {
	var b strings.Builder
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to draw code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func paymentError(op string, err error) error {
	if payment.IsDeclined(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, model.ErrPaymentFailed, err)
}

func formatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}
