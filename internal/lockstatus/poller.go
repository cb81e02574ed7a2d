package lockstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-reservation-backend/config"
	"locker-reservation-backend/internal/model"
)

// Store is the slice of persistence the poller needs.
type Store interface {
	DevicesByHardwareKind(ctx context.Context, kind model.HardwareKind) ([]model.Device, error)
	SetLockStatus(ctx context.Context, deviceID uuid.UUID, status model.LockStatus) error
}

// Poller mirrors the vendor's view of its locks into each device's
// lock_status. Unlocks are fire-and-forget, so this is how a door that
// failed to open, or was left open, becomes visible.
type Poller struct {
	vendor config.VendorConfig
	store  Store
	client *http.Client
	log    *zap.Logger
}

// NewPoller creates a lock status poller for the vendor integration.
func NewPoller(vendor config.VendorConfig, s Store, client *http.Client, log *zap.Logger) *Poller {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(vendor.TimeoutSeconds) * time.Second}
	}
	return &Poller{vendor: vendor, store: s, client: client, log: log.Named("lockstatus")}
}

// statusFor maps a raw vendor state code onto a lock status.
func (p *Poller) statusFor(code int) model.LockStatus {
	cfg := p.vendor.StatusPoll
	for _, v := range cfg.LockedValues {
		if code == v {
			return model.LockLocked
		}
	}
	for _, v := range cfg.OpenValues {
		if code == v {
			return model.LockOpen
		}
	}
	for _, v := range cfg.ClosedValues {
		if code == v {
			return model.LockClosed
		}
	}
	for _, v := range cfg.OfflineValues {
		if code == v {
			return model.LockOffline
		}
	}
	return model.LockUnknown
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	if !p.vendor.StatusPoll.Enabled || p.vendor.BaseURL == "" {
		p.log.Info("lock status polling disabled")
		return
	}
	p.log.Info("starting lock status poller", zap.Duration("interval", p.vendor.StatusPoll.Interval))

	p.poll(ctx)

	timer := time.NewTimer(p.vendor.StatusPoll.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("lock status poller shutting down")
			return
		case <-timer.C:
			p.poll(ctx)
			timer.Reset(p.vendor.StatusPoll.Interval)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	changed, err := p.PollOnce(ctx)
	if err != nil {
		p.log.Warn("lock status poll failed", zap.Error(err))
		return
	}
	if changed > 0 {
		p.log.Info("lock statuses updated", zap.Int("changed", changed))
	}
}

// PollOnce fetches every page of lock states and records the ones that
// differ from what is stored. It returns the number of devices updated.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	states, err := p.fetchAll(ctx)
	if err != nil && len(states) == 0 {
		// Nothing to go on; keep the stored statuses.
		return 0, err
	}
	if err != nil {
		p.log.Warn("partial lock status listing", zap.Int("items", len(states)), zap.Error(err))
	}

	devices, err := p.store.DevicesByHardwareKind(ctx, model.HardwareVendor)
	if err != nil {
		return 0, err
	}
	byLock := make(map[string]*model.Device, len(devices))
	for i := range devices {
		h, err := devices[i].Hardware()
		if err != nil {
			p.log.Warn("skipping device with bad address", zap.String("device_id", devices[i].ID.String()), zap.Error(err))
			continue
		}
		addr := h.(model.VendorHardware)
		byLock[lockKey(addr.SiteID, addr.LockID)] = &devices[i]
	}

	changed := 0
	for _, st := range states {
		d, ok := byLock[lockKey(st.SiteID, st.LockID)]
		if !ok {
			d, ok = byLock[lockKey("", st.LockID)]
		}
		if !ok {
			continue
		}
		status := p.statusFor(st.State)
		if d.LockStatus == status {
			continue
		}
		if err := p.store.SetLockStatus(ctx, d.ID, status); err != nil {
			p.log.Warn("failed to record lock status", zap.String("device_id", d.ID.String()), zap.Error(err))
			continue
		}
		d.LockStatus = status
		changed++
	}
	return changed, nil
}

func lockKey(site, lock string) string {
	return site + "/" + lock
}

func (p *Poller) fetchAll(ctx context.Context) ([]LockState, error) {
	var all []LockState
	total := 1
	pageSize := p.vendor.StatusPoll.PageSize
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := p.fetchPage(ctx, page)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		all = append(all, resp.Data.Items...)
	}
	return all, nil
}

func (p *Poller) fetchPage(ctx context.Context, page int) (*apiResponse, error) {
	body, err := json.Marshal(map[string]int{"page": page, "pageSize": p.vendor.StatusPoll.PageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.vendor.BaseURL+p.vendor.StatusPoll.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.vendor.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code: %d", apiResp.Code)
	}
	return &apiResp, nil
}
