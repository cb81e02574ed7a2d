package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"locker-reservation-backend/internal/model"
)

func TestGormStore_JobLifecycle(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	job := &model.ScheduledJob{ID: "job-1", Transition: "cancel", Args: `{"a":1}`, FireAt: now.Add(-time.Minute)}
	require.NoError(t, store.UpsertJob(ctx, job))

	// Re-registering replaces the prior row.
	replacement := &model.ScheduledJob{ID: "job-1", Transition: "expire", Args: `{"a":2}`, FireAt: now.Add(-time.Second)}
	require.NoError(t, store.UpsertJob(ctx, replacement))

	due, err := store.DueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "expire", due[0].Transition)
	assert.Equal(t, `{"a":2}`, due[0].Args)

	token, ok, err := store.ClaimJob(ctx, "job-1", due[0].LeaseToken, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.ClaimJob(ctx, "job-1", due[0].LeaseToken, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a leased job cannot be claimed twice")

	due, err = store.DueJobs(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, store.CompleteJob(ctx, "job-1", token))
	_, err = store.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.NoError(t, store.DeleteJob(ctx, "job-1"), "deleting a missing job is a no-op")
}

func TestGormStore_CompleteJob_KeepsReplacedJob(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertJob(ctx, &model.ScheduledJob{ID: "job-2", Transition: "expire", FireAt: now}))
	token, ok, err := store.ClaimJob(ctx, "job-2", "", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	// Re-scheduled while the worker holds the lease.
	require.NoError(t, store.UpsertJob(ctx, &model.ScheduledJob{ID: "job-2", Transition: "expire", FireAt: now.Add(time.Hour)}))

	require.NoError(t, store.CompleteJob(ctx, "job-2", token))
	job, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.True(t, job.FireAt.Equal(now.Add(time.Hour)))
}

func TestGormStore_RescheduleJob(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertJob(ctx, &model.ScheduledJob{
		ID: "res-begin", Transition: "reservation_begin", FireAt: now,
		Weekdays: "mon", MinuteOfDay: 720, Timezone: "UTC", Until: null.TimeFrom(now.Add(30 * 24 * time.Hour)),
	}))
	token, ok, err := store.ClaimJob(ctx, "res-begin", "", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	next := now.Add(7 * 24 * time.Hour)
	require.NoError(t, store.RescheduleJob(ctx, "res-begin", token, next))

	job, err := store.GetJob(ctx, "res-begin")
	require.NoError(t, err)
	assert.True(t, job.FireAt.Equal(next))
	assert.Empty(t, job.LeaseToken)
	assert.False(t, job.LeaseUntil.Valid)
	assert.True(t, job.Recurring())
}
