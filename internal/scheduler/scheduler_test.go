package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
)

// memStore is an in-memory JobStore with the same lease semantics as the
// database one.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]model.ScheduledJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]model.ScheduledJob)}
}

func (m *memStore) UpsertJob(_ context.Context, job *model.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	j.LeaseToken = ""
	j.LeaseUntil.Valid = false
	m.jobs[j.ID] = j
	return nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &j, nil
}

func (m *memStore) DueJobs(_ context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []model.ScheduledJob
	for _, j := range m.jobs {
		if !j.FireAt.After(now) && (!j.LeaseUntil.Valid || !j.LeaseUntil.Time.After(now)) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].FireAt.Before(due[k].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ClaimJob(_ context.Context, id, token string, now, leaseUntil time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.LeaseToken != token || j.FireAt.After(now) || (j.LeaseUntil.Valid && j.LeaseUntil.Time.After(now)) {
		return "", false, nil
	}
	j.LeaseToken = uuid.NewString()
	j.LeaseUntil.Time, j.LeaseUntil.Valid = leaseUntil, true
	j.Attempts++
	m.jobs[id] = j
	return j.LeaseToken, true, nil
}

func (m *memStore) CompleteJob(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.LeaseToken == token {
		delete(m.jobs, id)
	}
	return nil
}

func (m *memStore) RescheduleJob(_ context.Context, id, token string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.LeaseToken == token {
		j.FireAt = next
		j.LeaseToken = ""
		j.LeaseUntil.Valid = false
		j.Attempts = 0
		m.jobs[id] = j
	}
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *memStore, *fakeClock) {
	store := newMemStore()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)} // a Monday
	svc := NewService(Config{Lease: time.Minute, BatchSize: 10}, store, zap.NewNop(), metrics.New())
	svc.SetClock(clock.Now)
	return svc, store, clock
}

type cancelArgs struct {
	EventID string `json:"event_id"`
}

func TestService_OneShotFiresOnce(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	var got []string
	svc.Register("cancel", func(_ context.Context, raw json.RawMessage) error {
		var args cancelArgs
		require.NoError(t, json.Unmarshal(raw, &args))
		got = append(got, args.EventID)
		return nil
	})

	require.NoError(t, svc.Schedule(ctx, "ev-1", FireSpec{At: clock.Now().Add(5 * time.Minute)}, "cancel", cancelArgs{EventID: "ev-1"}))

	assert.Equal(t, 0, svc.RunOnce(ctx), "not due yet")
	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, svc.RunOnce(ctx))
	assert.Equal(t, []string{"ev-1"}, got)

	_, err := store.GetJob(ctx, "ev-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, svc.RunOnce(ctx))
}

func TestService_RescheduleReplaces(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Schedule(ctx, "ev-1", FireSpec{At: clock.Now().Add(time.Minute)}, "cancel", cancelArgs{EventID: "a"}))
	require.NoError(t, svc.Schedule(ctx, "ev-1", FireSpec{At: clock.Now().Add(time.Hour)}, "expire", cancelArgs{EventID: "b"}))

	job, err := store.GetJob(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "expire", job.Transition)
	assert.True(t, job.FireAt.Equal(clock.Now().Add(time.Hour)))
	assert.Len(t, store.jobs, 1)
}

func TestService_CancelIsIdempotent(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Schedule(ctx, "ev-1", FireSpec{At: clock.Now()}, "cancel", nil))
	require.NoError(t, svc.Cancel(ctx, "ev-1"))
	require.NoError(t, svc.Cancel(ctx, "ev-1"))
	require.NoError(t, svc.Cancel(ctx, "never-existed"))
	assert.Empty(t, store.jobs)
}

func TestService_FailureSemantics(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		expectKept bool
	}{
		{name: "Success finishes the job", err: nil},
		{name: "Invalid transition is swallowed", err: fmt.Errorf("already finished: %w", model.ErrInvalidTransition)},
		{name: "Missing event is swallowed", err: fmt.Errorf("gone: %w", model.ErrNotFound)},
		{name: "Infrastructure error is retried", err: errors.New("database unavailable"), expectKept: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, clock := newTestService(t)
			ctx := context.Background()

			calls := 0
			svc.Register("expire", func(context.Context, json.RawMessage) error {
				calls++
				return tc.err
			})
			require.NoError(t, svc.Schedule(ctx, "ev-1-expire", FireSpec{At: clock.Now()}, "expire", nil))

			svc.RunOnce(ctx)
			assert.Equal(t, 1, calls)

			_, err := store.GetJob(ctx, "ev-1-expire")
			if !tc.expectKept {
				assert.ErrorIs(t, err, model.ErrNotFound)
				return
			}
			require.NoError(t, err)

			// Leased: not retried before the lease runs out.
			svc.RunOnce(ctx)
			assert.Equal(t, 1, calls)

			clock.Advance(time.Minute)
			svc.RunOnce(ctx)
			assert.Equal(t, 2, calls)
		})
	}
}

func TestService_AbandonsAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	m := metrics.New()
	svc := NewService(Config{Lease: time.Minute, MaxAttempts: 3}, store, zap.NewNop(), m)
	svc.SetClock(clock.Now)
	ctx := context.Background()

	calls := 0
	svc.Register("expire", func(context.Context, json.RawMessage) error {
		calls++
		return errors.New("database unavailable")
	})
	require.NoError(t, svc.Schedule(ctx, "ev-1-expire", FireSpec{At: clock.Now()}, "expire", nil))

	for i := 0; i < 5; i++ {
		svc.RunOnce(ctx)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, 3, calls)

	_, err := store.GetJob(ctx, "ev-1-expire")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SchedulerFires.WithLabelValues("expire", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerFires.WithLabelValues("expire", "abandoned")))
}

func TestService_UnknownTransitionIsDropped(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Schedule(ctx, "ev-1", FireSpec{At: clock.Now()}, "teleport", nil))
	svc.RunOnce(ctx)
	assert.Empty(t, store.jobs)
}

func TestService_RescheduledWhileRunning(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	svc.Register("expire", func(ctx context.Context, _ json.RawMessage) error {
		// A new pin code re-registers the deadline while this one runs.
		return svc.Schedule(ctx, "ev-1-expire", FireSpec{At: clock.Now().Add(72 * time.Hour)}, "expire", nil)
	})
	require.NoError(t, svc.Schedule(ctx, "ev-1-expire", FireSpec{At: clock.Now()}, "expire", nil))

	svc.RunOnce(ctx)

	job, err := store.GetJob(ctx, "ev-1-expire")
	require.NoError(t, err, "the replacement must survive")
	assert.True(t, job.FireAt.Equal(clock.Now().Add(72*time.Hour)))
}

func TestService_Recurring(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	fires := 0
	svc.Register("reservation_begin", func(context.Context, json.RawMessage) error {
		fires++
		return nil
	})

	rec := &Recurrence{
		Weekdays:    []time.Weekday{time.Monday, time.Wednesday},
		MinuteOfDay: 10 * 60,
		Location:    time.UTC,
		Until:       clock.Now().Add(4 * 24 * time.Hour),
	}
	require.NoError(t, svc.Schedule(ctx, "res-begin", FireSpec{Recurrence: rec}, "reservation_begin", nil))

	job, err := store.GetJob(ctx, "res-begin")
	require.NoError(t, err)
	assert.True(t, job.FireAt.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))

	clock.Advance(time.Hour) // Monday 10:00
	svc.RunOnce(ctx)
	assert.Equal(t, 1, fires)

	job, err = store.GetJob(ctx, "res-begin")
	require.NoError(t, err)
	assert.True(t, job.FireAt.Equal(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)), "moves to Wednesday")

	clock.t = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	svc.RunOnce(ctx)
	assert.Equal(t, 2, fires)

	_, err = store.GetJob(ctx, "res-begin")
	assert.ErrorIs(t, err, model.ErrNotFound, "next Monday is past Until")
}

func TestRecurrence_Next(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	rec := Recurrence{Weekdays: []time.Weekday{time.Friday}, MinuteOfDay: 8*60 + 30, Location: ny}

	next, ok := rec.Next(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 6, 8, 30, 0, 0, ny).UTC(), next)

	// Exactly at an occurrence moves to the following week.
	again, ok := rec.Next(next)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 13, 8, 30, 0, 0, ny).UTC(), again)

	_, ok = Recurrence{}.Next(time.Now())
	assert.False(t, ok)
}
