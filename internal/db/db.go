package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"locker-reservation-backend/config"
	"locker-reservation-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := logger.Warn
	if cfg.LogQueries {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite serializes writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", zap.String("driver", cfg.Driver))
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table and index the service needs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Organization{},
		&model.PricePolicy{},
		&model.Promo{},
		&model.Membership{},
		&model.Device{},
		&model.DeviceGrant{},
		&model.Event{},
		&model.Penalty{},
		&model.AuditEntry{},
		&model.Reservation{},
		&model.ScheduledJob{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return applyIndexDDL(db)
}

// applyIndexDDL adds the partial indexes AutoMigrate cannot express. Both
// postgres and sqlite accept this syntax.
func applyIndexDDL(db *gorm.DB) error {
	ddls := []string{
		// A pickup code identifies at most one live event per tenant.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_events_live_code ON events (tenant_id, code) " +
			"WHERE code <> '' AND event_status NOT IN ('finished', 'canceled', 'expired', 'refunded')",

		// At most one live event per device, mirroring the resource lock.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_events_live_device ON events (device_id) " +
			"WHERE event_status NOT IN ('finished', 'canceled', 'expired', 'refunded')",

		"CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs (fire_at, lease_until)",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
