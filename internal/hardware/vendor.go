package hardware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"locker-reservation-backend/internal/model"
)

// VendorUnlocker calls a lock vendor's REST API:
// POST {base}/locks/{lock_id}/unlock.
type VendorUnlocker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewVendorUnlocker creates a vendor REST unlocker.
func NewVendorUnlocker(baseURL, apiKey string, client *http.Client) *VendorUnlocker {
	if client == nil {
		client = http.DefaultClient
	}
	return &VendorUnlocker{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (u *VendorUnlocker) Unlock(ctx context.Context, device *model.Device) error {
	addr, err := address[model.VendorHardware](device)
	if err != nil {
		return err
	}
	payload, err := unlockPayload(device)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/locks/%s/unlock", u.baseURL, url.PathEscape(addr.LockID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	if addr.SiteID != "" {
		req.Header.Set("X-Site-ID", addr.SiteID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrHardwareFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return ErrOffline
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: lock %s not known to vendor", ErrUnsupported, addr.LockID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: vendor returned %d: %s", model.ErrHardwareFailed, resp.StatusCode, bytes.TrimSpace(body))
	}
}
