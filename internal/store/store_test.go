package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"locker-reservation-backend/internal/db"
	"locker-reservation-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteDB opens a private in-memory database with the full schema.
func newSQLiteDB(t *testing.T) *gorm.DB {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

func seedDevice(t *testing.T, gormDB *gorm.DB, mutate func(d *model.Device)) model.Device {
	d := model.Device{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		LocationID:   uuid.New(),
		SizeID:       uuid.New(),
		Name:         "A1",
		Status:       model.DeviceAvailable,
		LockStatus:   model.LockLocked,
		Mode:         model.ModeStorage,
		HardwareKind: model.HardwareVirtual,
	}
	if mutate != nil {
		mutate(&d)
	}
	require.NoError(t, gormDB.Create(&d).Error)
	return d
}

func TestGormStore_Reserve_SQL(t *testing.T) {
	deviceID := uuid.New()
	tenantID := uuid.New()

	testCases := []struct {
		name             string
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
	}{
		{
			name: "Lost the race, no row matched",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "devices" SET "status"=$1,"updated_at"=$2 WHERE`)).
					WithArgs("reserved", Any{}, deviceID.String(), tenantID.String(), "available").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedErr: model.ErrNotAvailable,
		},
		{
			name: "Reserved, device reloaded",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "devices" SET "status"=$1,"updated_at"=$2 WHERE`)).
					WithArgs("reserved", Any{}, deviceID.String(), tenantID.String(), "available").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "devices" WHERE id = $1`)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status"}).
						AddRow(deviceID.String(), tenantID.String(), "reserved"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			device, err := store.Reserve(context.Background(), deviceID, tenantID)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Nil(t, device)
			} else {
				require.NoError(t, err)
				assert.Equal(t, model.DeviceReserved, device.Status)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_Reserve_NoDoubleReservation(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	device := seedDevice(t, gormDB, nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		taken     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Reserve(context.Background(), device.ID, device.TenantID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrNotAvailable):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, taken)

	reloaded, err := store.GetDevice(context.Background(), device.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceReserved, reloaded.Status)
}

func TestGormStore_Reserve_WrongTenantOrMaintenance(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	device := seedDevice(t, gormDB, nil)
	_, err := store.Reserve(ctx, device.ID, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotAvailable)

	broken := seedDevice(t, gormDB, func(d *model.Device) { d.Status = model.DeviceMaintenance })
	_, err = store.Reserve(ctx, broken.ID, broken.TenantID)
	assert.ErrorIs(t, err, model.ErrNotAvailable)

	_, err = store.Reserve(ctx, uuid.New(), device.TenantID)
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestGormStore_Release_Idempotent(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()
	device := seedDevice(t, gormDB, func(d *model.Device) { d.Status = model.DeviceReserved })

	other := uuid.New()
	_, err := store.Release(ctx, device.ID, &other)
	assert.ErrorIs(t, err, model.ErrAlreadyAvailable, "tenant filter must apply")

	released, err := store.Release(ctx, device.ID, &device.TenantID)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceAvailable, released.Status)

	_, err = store.Release(ctx, device.ID, nil)
	assert.ErrorIs(t, err, model.ErrAlreadyAvailable)

	reloaded, err := store.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceAvailable, reloaded.Status)
}

func TestGormStore_SelectDevice(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	tenant := uuid.New()
	location := uuid.New()
	size := uuid.New()
	place := func(count int64, status model.DeviceStatus) func(d *model.Device) {
		return func(d *model.Device) {
			d.TenantID, d.LocationID, d.SizeID = tenant, location, size
			d.TransactionCount = count
			d.Status = status
		}
	}

	sel := DeviceSelector{TenantID: tenant, LocationID: location, SizeID: uuid.NullUUID{UUID: size, Valid: true}, Mode: model.ModeStorage}

	_, err := store.SelectDevice(ctx, sel)
	assert.ErrorIs(t, err, model.ErrNoDeviceAvailable)

	seedDevice(t, gormDB, place(7, model.DeviceAvailable))
	leastUsed := seedDevice(t, gormDB, place(2, model.DeviceAvailable))
	seedDevice(t, gormDB, place(0, model.DeviceReserved))
	seedDevice(t, gormDB, func(d *model.Device) {
		place(0, model.DeviceAvailable)(d)
		d.Mode = model.ModeRental
	})

	picked, err := store.SelectDevice(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, leastUsed.ID, picked.ID)

	available, err := store.ListAvailable(ctx, sel)
	require.NoError(t, err)
	assert.Len(t, available, 2)
}

func TestGormStore_TransitionEvent(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()
	device := seedDevice(t, gormDB, func(d *model.Device) { d.Status = model.DeviceReserved })

	ev := &model.Event{
		ID:        uuid.New(),
		TenantID:  device.TenantID,
		DeviceID:  device.ID,
		UserID:    uuid.New(),
		Type:      model.ModeStorage,
		Status:    model.StatusInProgress,
		Code:      "123456",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateEvent(ctx, ev))

	reloaded, err := store.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.TransactionCount)

	inUse, err := store.CodeInUse(ctx, device.TenantID, "123456")
	require.NoError(t, err)
	assert.True(t, inUse)

	moved, err := store.TransitionEvent(ctx, ev.ID,
		[]model.EventStatus{model.StatusInProgress}, model.StatusFinished,
		map[string]any{"total": decimal.RequireFromString("12.50")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, moved.Status)
	assert.Equal(t, "12.50", moved.Total.StringFixed(2))

	again, err := store.TransitionEvent(ctx, ev.ID,
		[]model.EventStatus{model.StatusInProgress}, model.StatusCanceled, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, model.StatusFinished, again.Status)

	_, err = store.TransitionEvent(ctx, uuid.New(),
		[]model.EventStatus{model.StatusInProgress}, model.StatusCanceled, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	inUse, err = store.CodeInUse(ctx, device.TenantID, "123456")
	require.NoError(t, err)
	assert.False(t, inUse, "terminal events free their code")
}

func TestGormStore_IsDeviceAccessibleToUser(t *testing.T) {
	gormDB := newSQLiteDB(t)
	store := NewGormStore(gormDB)
	ctx := context.Background()

	open := seedDevice(t, gormDB, nil)
	restricted := seedDevice(t, gormDB, func(d *model.Device) { d.Restricted = true })
	granted := uuid.New()
	require.NoError(t, gormDB.Create(&model.DeviceGrant{DeviceID: restricted.ID, UserID: granted}).Error)

	ok, err := store.IsDeviceAccessibleToUser(ctx, open.ID, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsDeviceAccessibleToUser(ctx, restricted.ID, granted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsDeviceAccessibleToUser(ctx, restricted.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
