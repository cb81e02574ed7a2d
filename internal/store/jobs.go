package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"locker-reservation-backend/internal/model"
)

// UpsertJob inserts the job or replaces every column of the existing row
// with the same id. Any lease held on the old row is dropped.
func (s *gormStore) UpsertJob(ctx context.Context, job *model.ScheduledJob) error {
	job.LeaseToken = ""
	job.LeaseUntil.Valid = false
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"transition", "args", "fire_at", "weekdays", "minute_of_day", "timezone",
			"until", "lease_token", "lease_until", "attempts", "updated_at",
		}),
	}).Create(job).Error
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job. Deleting a missing job is not an error.
func (s *gormStore) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.ScheduledJob{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (s *gormStore) GetJob(ctx context.Context, id string) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	if err := s.db.WithContext(ctx).Take(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// DueJobs lists jobs whose fire time has passed and that no worker holds.
func (s *gormStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	err := s.db.WithContext(ctx).
		Where("fire_at <= ? AND (lease_until IS NULL OR lease_until <= ?)", now, now).
		Order("fire_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob takes a lease on a due job. token is the lease token the caller
// saw when listing; if the row changed since, the claim fails. It returns
// the new lease token.
func (s *gormStore) ClaimJob(ctx context.Context, id, token string, now, leaseUntil time.Time) (string, bool, error) {
	newToken := uuid.NewString()
	res := s.db.WithContext(ctx).
		Model(&model.ScheduledJob{}).
		Where("id = ? AND lease_token = ? AND fire_at <= ? AND (lease_until IS NULL OR lease_until <= ?)", id, token, now, now).
		Updates(map[string]any{
			"lease_token": newToken,
			"lease_until": leaseUntil,
			"attempts":    gorm.Expr("attempts + ?", 1),
		})
	if res.Error != nil {
		return "", false, fmt.Errorf("failed to claim job %s: %w", id, res.Error)
	}
	return newToken, res.RowsAffected == 1, nil
}

// CompleteJob deletes a one-shot job, unless it was re-scheduled while the
// lease was held.
func (s *gormStore) CompleteJob(ctx context.Context, id, token string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND lease_token = ?", id, token).
		Delete(&model.ScheduledJob{}).Error
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// RescheduleJob moves a recurring job to its next occurrence and drops the
// lease, unless it was re-scheduled while the lease was held.
func (s *gormStore) RescheduleJob(ctx context.Context, id, token string, next time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.ScheduledJob{}).
		Where("id = ? AND lease_token = ?", id, token).
		Updates(map[string]any{
			"fire_at":     next,
			"lease_token": "",
			"lease_until": nil,
			"attempts":    0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", id, err)
	}
	return nil
}
