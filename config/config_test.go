package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: postgres://localhost/lockers\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Lifecycle.AutoCancelMinutes)
	assert.Equal(t, 72, cfg.Lifecycle.ParcelExpirationHours)
	assert.Equal(t, "0.50", cfg.Lifecycle.MinimumCharge.StringFixed(2))
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, time.Minute, cfg.Scheduler.Lease)
	assert.Equal(t, 10, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, "/locks/status", cfg.Vendor.StatusPoll.Path)
	assert.Equal(t, 100, cfg.Vendor.StatusPoll.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Vendor.StatusPoll.Interval)
	assert.False(t, cfg.Vendor.StatusPoll.Enabled)
}

func TestLoad_VendorStatusPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vendor:
  base_url: https://locks.example.com/v1
  status_poll:
    enabled: true
    interval_seconds: 10
    state_locked_values: [1, 4]
    state_open_values: [2]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	poll := cfg.Vendor.StatusPoll
	assert.True(t, poll.Enabled)
	assert.Equal(t, 10*time.Second, poll.Interval)
	assert.Equal(t, []int{1, 4}, poll.LockedValues)
	assert.Equal(t, []int{2}, poll.OpenValues)
	assert.Empty(t, poll.OfflineValues)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("LOCKER_DSN", "file:test.db")
	t.Setenv("VAPID_PRIVATE", "secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: sqlite
  dsn: ${LOCKER_DSN}
push:
  vapid_private_key: ${VAPID_PRIVATE}
scheduler:
  interval_seconds: 2
lifecycle:
  parcel_expiration_hours: 24
  minimum_charge: 0.30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, "secret", cfg.Push.PrivateKey)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 24, cfg.Lifecycle.ParcelExpirationHours)
	assert.Equal(t, "0.30", cfg.Lifecycle.MinimumCharge.StringFixed(2))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
