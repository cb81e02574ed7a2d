// Package scheduler runs durable, cancelable, time-based transitions. Jobs
// are rows in the database; any number of workers may poll them, and a job
// is executed by whichever worker claims its lease first.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/parse"
)

// FireSpec is either a one-shot time (At) or a Recurrence.
type FireSpec struct {
	At         time.Time
	Recurrence *Recurrence
}

// Scheduler registers and cancels jobs.
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, spec FireSpec, transition string, args any) error
	Cancel(ctx context.Context, jobID string) error
}

// TransitionFunc is invoked when a job fires, with the job's stored arguments.
type TransitionFunc func(ctx context.Context, args json.RawMessage) error

// JobStore persists jobs.
type JobStore interface {
	UpsertJob(ctx context.Context, job *model.ScheduledJob) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*model.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)
	ClaimJob(ctx context.Context, id, token string, now, leaseUntil time.Time) (string, bool, error)
	CompleteJob(ctx context.Context, id, token string) error
	RescheduleJob(ctx context.Context, id, token string, next time.Time) error
}

// Config tunes the runner.
type Config struct {
	Interval  time.Duration
	Lease     time.Duration
	BatchSize int
	// MaxAttempts bounds how often a failing job is retried before it is
	// abandoned. A recurring job moves on to its next occurrence.
	MaxAttempts int
}

// Service is the database-backed Scheduler and its polling runner.
type Service struct {
	cfg     Config
	store   JobStore
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	transitions map[string]TransitionFunc
}

// NewService creates a scheduler over store. m may be nil.
func NewService(cfg Config, store JobStore, log *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Service{
		cfg:         cfg,
		store:       store,
		log:         log,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		transitions: make(map[string]TransitionFunc),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register binds a transition name to the function jobs invoke.
func (s *Service) Register(name string, fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[name] = fn
}

// Schedule registers a job, replacing any job with the same id.
func (s *Service) Schedule(ctx context.Context, jobID string, spec FireSpec, transition string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args of job %s: %w", jobID, err)
	}
	job := &model.ScheduledJob{
		ID:         jobID,
		Transition: transition,
		Args:       string(raw),
	}

	if rec := spec.Recurrence; rec != nil {
		first, ok := rec.Next(s.now())
		if !ok {
			return fmt.Errorf("recurrence of job %s never fires", jobID)
		}
		job.FireAt = first
		job.Weekdays = parse.FormatWeekdays(rec.Weekdays)
		job.MinuteOfDay = rec.MinuteOfDay
		job.Timezone = "UTC"
		if rec.Location != nil {
			job.Timezone = rec.Location.String()
		}
		if !rec.Until.IsZero() {
			job.Until = null.TimeFrom(rec.Until.UTC())
		}
	} else {
		if spec.At.IsZero() {
			return fmt.Errorf("job %s has no fire time", jobID)
		}
		job.FireAt = spec.At.UTC()
	}

	if err := s.store.UpsertJob(ctx, job); err != nil {
		return err
	}
	s.log.Debug("job scheduled",
		zap.String("job_id", jobID),
		zap.String("transition", transition),
		zap.Time("fire_at", job.FireAt))
	return nil
}

// Cancel removes a job. Canceling a missing job is a no-op.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.store.DeleteJob(ctx, jobID)
}

// Run polls for due jobs until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))

	s.RunOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// RunOnce executes every due job once and returns how many it fired.
func (s *Service) RunOnce(ctx context.Context) int {
	now := s.now()
	jobs, err := s.store.DueJobs(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("failed to list due jobs", zap.Error(err))
		return 0
	}

	fired := 0
	for _, due := range jobs {
		if ctx.Err() != nil {
			break
		}
		token, ok, err := s.store.ClaimJob(ctx, due.ID, due.LeaseToken, now, now.Add(s.cfg.Lease))
		if err != nil {
			s.log.Error("failed to claim job", zap.String("job_id", due.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		job, err := s.store.GetJob(ctx, due.ID)
		if err != nil || job.LeaseToken != token {
			continue
		}
		s.fire(ctx, job, token, now)
		fired++
	}
	return fired
}

func (s *Service) fire(ctx context.Context, job *model.ScheduledJob, token string, now time.Time) {
	log := s.log.With(zap.String("job_id", job.ID), zap.String("transition", job.Transition))

	s.mu.RLock()
	fn, ok := s.transitions[job.Transition]
	s.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no transition registered as %q", job.Transition)
		log.Error("dropping job", zap.Error(err))
	} else {
		err = fn(ctx, json.RawMessage(job.Args))
	}
	outcome := "ok"

	switch {
	case err == nil:
	case !ok:
		outcome = "dropped"
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNotFound):
		// The target state was reached some other way.
		outcome = "skipped"
		log.Info("job preconditions no longer hold", zap.Error(err))
	case job.Attempts >= s.cfg.MaxAttempts:
		outcome = "abandoned"
		log.Error("job failed too often, abandoning", zap.Int("attempts", job.Attempts), zap.Error(err))
	default:
		// Keep the lease; the job fires again once it expires.
		if s.metrics != nil {
			s.metrics.SchedulerFires.WithLabelValues(job.Transition, "retry").Inc()
		}
		log.Error("job failed, will retry", zap.Int("attempt", job.Attempts), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.SchedulerFires.WithLabelValues(job.Transition, outcome).Inc()
	}

	if err := s.finish(ctx, job, token, now); err != nil {
		log.Error("failed to finish job", zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, job *model.ScheduledJob, token string, now time.Time) error {
	if !job.Recurring() {
		return s.store.CompleteJob(ctx, job.ID, token)
	}
	rec, err := recurrenceOf(job)
	if err != nil {
		return err
	}
	next, ok := rec.Next(now)
	if !ok {
		return s.store.CompleteJob(ctx, job.ID, token)
	}
	return s.store.RescheduleJob(ctx, job.ID, token, next)
}

func recurrenceOf(job *model.ScheduledJob) (Recurrence, error) {
	days, err := parse.Weekdays(job.Weekdays)
	if err != nil {
		return Recurrence{}, err
	}
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return Recurrence{}, fmt.Errorf("job %s has invalid timezone: %w", job.ID, err)
	}
	rec := Recurrence{Weekdays: days, MinuteOfDay: job.MinuteOfDay, Location: loc}
	if job.Until.Valid {
		rec.Until = job.Until.Time
	}
	return rec, nil
}
