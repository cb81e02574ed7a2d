package lockstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"locker-reservation-backend/config"
	"locker-reservation-backend/internal/model"
)

// mockStore is a mock implementation of the Store interface.
type mockStore struct {
	mu       sync.Mutex
	devices  []model.Device
	statuses map[uuid.UUID]model.LockStatus
}

func (m *mockStore) DevicesByHardwareKind(_ context.Context, kind model.HardwareKind) ([]model.Device, error) {
	var out []model.Device
	for _, d := range m.devices {
		if d.HardwareKind == kind {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) SetLockStatus(_ context.Context, id uuid.UUID, status model.LockStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func vendorDevice(site, lock string, status model.LockStatus) model.Device {
	addr, _ := json.Marshal(model.VendorHardware{SiteID: site, LockID: lock})
	return model.Device{
		ID:              uuid.New(),
		HardwareKind:    model.HardwareVendor,
		HardwareAddress: string(addr),
		LockStatus:      status,
	}
}

func pollConfig(baseURL string) config.VendorConfig {
	return config.VendorConfig{
		BaseURL: baseURL,
		APIKey:  "secret",
		StatusPoll: config.StatusPollConfig{
			Enabled:       true,
			Path:          "/locks/status",
			PageSize:      2,
			LockedValues:  []int{1},
			OpenValues:    []int{2},
			ClosedValues:  []int{3},
			OfflineValues: []int{9},
		},
	}
}

// vendorServer pages through items two at a time.
func vendorServer(t *testing.T, items []LockState) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locks/status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Page     int `json:"page"`
			PageSize int `json:"pageSize"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp apiResponse
		resp.Data.Page = req.Page
		resp.Data.PageSize = req.PageSize
		resp.Data.Total = len(items)
		from := (req.Page - 1) * req.PageSize
		if from < len(items) {
			to := min(from+req.PageSize, len(items))
			resp.Data.Items = items[from:to]
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestPollOnce_RecordsChangedStatuses(t *testing.T) {
	open := vendorDevice("s1", "L1", model.LockLocked)
	same := vendorDevice("s1", "L2", model.LockLocked)
	offline := vendorDevice("", "L3", model.LockUnknown)
	unknown := vendorDevice("s2", "L4", model.LockLocked)
	virtual := model.Device{ID: uuid.New(), HardwareKind: model.HardwareVirtual}

	server := vendorServer(t, []LockState{
		{LockID: "L1", SiteID: "s1", State: 2},
		{LockID: "L2", SiteID: "s1", State: 1},
		{LockID: "L3", SiteID: "s9", State: 9},
		{LockID: "L4", SiteID: "s2", State: 42},
		{LockID: "L5", SiteID: "s1", State: 2},
	})
	defer server.Close()

	st := &mockStore{
		devices:  []model.Device{open, same, offline, unknown, virtual},
		statuses: map[uuid.UUID]model.LockStatus{},
	}
	p := NewPoller(pollConfig(server.URL), st, server.Client(), zap.NewNop())

	changed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.Equal(t, map[uuid.UUID]model.LockStatus{
		open.ID:    model.LockOpen,
		offline.ID: model.LockOffline,
		unknown.ID: model.LockUnknown,
	}, st.statuses)
}

func TestPollOnce_FetchErrorKeepsStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	st := &mockStore{
		devices:  []model.Device{vendorDevice("s1", "L1", model.LockLocked)},
		statuses: map[uuid.UUID]model.LockStatus{},
	}
	p := NewPoller(pollConfig(server.URL), st, server.Client(), zap.NewNop())

	changed, err := p.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, changed)
	assert.Empty(t, st.statuses)
}

func TestPollOnce_ApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":7,"data":{}}`))
	}))
	defer server.Close()

	st := &mockStore{statuses: map[uuid.UUID]model.LockStatus{}}
	p := NewPoller(pollConfig(server.URL), st, server.Client(), zap.NewNop())

	_, err := p.PollOnce(context.Background())
	assert.ErrorContains(t, err, "non-zero application code: 7")
}

func TestRun_Disabled(t *testing.T) {
	cfg := pollConfig("http://unused")
	cfg.StatusPoll.Enabled = false
	p := NewPoller(cfg, &mockStore{}, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	<-done
}
