package store

import (
	"context"
	"fmt"

	"locker-reservation-backend/internal/model"
)

// Record appends an audit entry.
func (s *gormStore) Record(ctx context.Context, entry model.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry %q: %w", entry.Action, err)
	}
	return nil
}
