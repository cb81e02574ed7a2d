package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"locker-reservation-backend/internal/model"
)

// Catalog serves read-only catalog rows. Rows are cached for a short TTL so
// that one transition sees a stable snapshot without re-reading them.
type Catalog struct {
	db       *gorm.DB
	cache    *cache.Cache
	defaults model.Organization
}

// NewCatalog creates a catalog reader. defaults is returned for tenants that
// have no organization row.
func NewCatalog(db *gorm.DB, ttl time.Duration, defaults model.Organization) *Catalog {
	return &Catalog{
		db:       db,
		cache:    cache.New(ttl, 2*ttl),
		defaults: defaults,
	}
}

func (c *Catalog) PricePolicy(ctx context.Context, id uuid.UUID) (*model.PricePolicy, error) {
	return lookup[model.PricePolicy](ctx, c, "policy", id)
}

func (c *Catalog) Promo(ctx context.Context, id uuid.UUID) (*model.Promo, error) {
	return lookup[model.Promo](ctx, c, "promo", id)
}

func (c *Catalog) Membership(ctx context.Context, id uuid.UUID) (*model.Membership, error) {
	return lookup[model.Membership](ctx, c, "membership", id)
}

// Organization returns the tenant's lifecycle settings.
func (c *Catalog) Organization(ctx context.Context, tenantID uuid.UUID) (*model.Organization, error) {
	key := "org:" + tenantID.String()
	if v, ok := c.cache.Get(key); ok {
		org := v.(model.Organization)
		return &org, nil
	}

	var org model.Organization
	err := c.db.WithContext(ctx).Take(&org, "tenant_id = ?", tenantID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		org = c.defaults
		org.TenantID = tenantID
	case err != nil:
		return nil, fmt.Errorf("failed to load organization %s: %w", tenantID, err)
	}
	if org.ParcelExpiration <= 0 {
		org.ParcelExpiration = c.defaults.ParcelExpiration
	}
	if org.AutoCancelMinutes <= 0 {
		org.AutoCancelMinutes = c.defaults.AutoCancelMinutes
	}
	if org.Currency == "" {
		org.Currency = c.defaults.Currency
	}
	c.cache.SetDefault(key, org)
	return &org, nil
}

// ConsumeMembershipUse spends one use of a limited membership. It fails with
// ErrNotFound when no use is left.
func (c *Catalog) ConsumeMembershipUse(ctx context.Context, id uuid.UUID) error {
	res := c.db.WithContext(ctx).
		Model(&model.Membership{}).
		Where("id = ? AND uses_remaining > 0", id).
		UpdateColumn("uses_remaining", gorm.Expr("uses_remaining - ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to consume membership %s: %w", id, res.Error)
	}
	c.cache.Delete("membership:" + id.String())
	if res.RowsAffected == 0 {
		return fmt.Errorf("membership %s has no uses left: %w", id, model.ErrNotFound)
	}
	return nil
}

func lookup[T any](ctx context.Context, c *Catalog, kind string, id uuid.UUID) (*T, error) {
	key := kind + ":" + id.String()
	if v, ok := c.cache.Get(key); ok {
		row := v.(T)
		return &row, nil
	}

	var row T
	if err := c.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	c.cache.SetDefault(key, row)
	return &row, nil
}
