package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/model"
)

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.db.WithContext(ctx).Take(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return &r, nil
}

func (s *gormStore) DeactivateReservation(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate reservation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("active reservation %s: %w", id, model.ErrNotFound)
	}
	return nil
}
