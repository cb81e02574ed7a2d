package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/mw"
)

func newDevice(t *testing.T, h model.Hardware) *model.Device {
	d := &model.Device{ID: uuid.New(), LockStatus: model.LockLocked}
	require.NoError(t, d.SetHardware(h))
	return d
}

// mockPublisher is a mock implementation of the Publisher interface.
type mockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, qos byte, payload []byte) error
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return m.PublishFunc(ctx, topic, qos, payload)
}

type mockLockStore struct {
	statuses map[uuid.UUID]model.LockStatus
}

func (m *mockLockStore) SetLockStatus(_ context.Context, id uuid.UUID, status model.LockStatus) error {
	m.statuses[id] = status
	return nil
}

type mockIoT struct {
	input *iotdataplane.PublishInput
	err   error
}

func (m *mockIoT) Publish(_ context.Context, in *iotdataplane.PublishInput, _ ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error) {
	m.input = in
	return &iotdataplane.PublishOutput{}, m.err
}

func TestDispatcher_Registry(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), nil, metrics.New(), time.Second)

	err := d.Unlock(context.Background(), newDevice(t, model.MQTTHardware{Topic: "t"}))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, model.ErrHardwareFailed)

	var called bool
	d.Register(model.HardwareMQTT, UnlockerFunc(func(context.Context, *model.Device) error {
		called = true
		return nil
	}))
	require.NoError(t, d.Unlock(context.Background(), newDevice(t, model.MQTTHardware{Topic: "t"})))
	assert.True(t, called)
}

func TestDispatcher_WrapsPlainErrors(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), nil, nil, 0)
	d.Register(model.HardwareVirtual, UnlockerFunc(func(context.Context, *model.Device) error {
		return errors.New("bolt jammed")
	}))

	err := d.Unlock(context.Background(), newDevice(t, model.VirtualHardware{}))
	assert.ErrorIs(t, err, model.ErrHardwareFailed)
	assert.Contains(t, err.Error(), "bolt jammed")
}

func TestDispatcher_ThrottlesPerDevice(t *testing.T) {
	limiter := mw.NewKeyedRateLimiter(rate.Limit(0.001), 1, time.Minute)
	d := NewDispatcher(zap.NewNop(), limiter, nil, 0)
	d.Register(model.HardwareVirtual, UnlockerFunc(func(context.Context, *model.Device) error { return nil }))

	device := newDevice(t, model.VirtualHardware{})
	require.NoError(t, d.Unlock(context.Background(), device))
	assert.ErrorIs(t, d.Unlock(context.Background(), device), ErrThrottled)
	assert.NoError(t, d.Unlock(context.Background(), newDevice(t, model.VirtualHardware{})))
}

func TestVirtualUnlocker(t *testing.T) {
	store := &mockLockStore{statuses: map[uuid.UUID]model.LockStatus{}}
	device := newDevice(t, model.VirtualHardware{})

	require.NoError(t, NewVirtualUnlocker(store).Unlock(context.Background(), device))
	assert.Equal(t, model.LockOpen, store.statuses[device.ID])
}

func TestMQTTUnlocker(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	pub := &mockPublisher{PublishFunc: func(_ context.Context, topic string, qos byte, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		assert.Equal(t, byte(1), qos)
		return nil
	}}
	u := NewMQTTUnlocker(pub, 1)

	device := newDevice(t, model.MQTTHardware{Topic: "site/1/locker/7"})
	require.NoError(t, u.Unlock(context.Background(), device))
	assert.Equal(t, "site/1/locker/7", gotTopic)

	var cmd command
	require.NoError(t, json.Unmarshal(gotPayload, &cmd))
	assert.Equal(t, "unlock", cmd.Command)
	assert.Equal(t, device.ID, cmd.DeviceID)

	t.Run("refuses offline devices", func(t *testing.T) {
		offline := newDevice(t, model.MQTTHardware{Topic: "x"})
		offline.LockStatus = model.LockOffline
		assert.ErrorIs(t, u.Unlock(context.Background(), offline), ErrOffline)
	})

	t.Run("rejects other kinds", func(t *testing.T) {
		assert.ErrorIs(t, u.Unlock(context.Background(), newDevice(t, model.VendorHardware{LockID: "L"})), ErrUnsupported)
	})

	t.Run("publish failure", func(t *testing.T) {
		failing := NewMQTTUnlocker(&mockPublisher{PublishFunc: func(context.Context, string, byte, []byte) error {
			return errors.New("broker gone")
		}}, 1)
		assert.ErrorIs(t, failing.Unlock(context.Background(), device), model.ErrHardwareFailed)
	})
}

func TestAWSIoTUnlocker(t *testing.T) {
	client := &mockIoT{}
	u := NewAWSIoTUnlocker(client, "lockers/%s/commands")

	require.NoError(t, u.Unlock(context.Background(), newDevice(t, model.AWSIoTHardware{ThingName: "locker-12"})))
	require.NotNil(t, client.input)
	assert.Equal(t, "lockers/locker-12/commands", *client.input.Topic)
	assert.Equal(t, int32(1), client.input.Qos)

	client.err = errors.New("throttled")
	assert.ErrorIs(t, u.Unlock(context.Background(), newDevice(t, model.AWSIoTHardware{ThingName: "locker-12"})), model.ErrHardwareFailed)
}

func TestVendorUnlocker(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		expectedErr error
	}{
		{name: "Accepted", status: http.StatusAccepted},
		{name: "Lock offline", status: http.StatusServiceUnavailable, expectedErr: ErrOffline},
		{name: "Unknown lock", status: http.StatusNotFound, expectedErr: ErrUnsupported},
		{name: "Vendor error", status: http.StatusInternalServerError, expectedErr: model.ErrHardwareFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/locks/L-99/unlock", r.URL.Path)
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				assert.Equal(t, "s1", r.Header.Get("X-Site-ID"))
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			u := NewVendorUnlocker(server.URL, "key", server.Client())
			err := u.Unlock(context.Background(), newDevice(t, model.VendorHardware{SiteID: "s1", LockID: "L-99"}))
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
