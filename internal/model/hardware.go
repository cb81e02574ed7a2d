package model

import (
	"encoding/json"
	"fmt"
)

// HardwareKind names the integration that drives a device's lock.
type HardwareKind string

const (
	HardwareVirtual HardwareKind = "virtual"
	HardwareMQTT    HardwareKind = "mqtt"
	HardwareAWSIoT  HardwareKind = "aws_iot"
	HardwareVendor  HardwareKind = "vendor"
)

// Hardware is the addressing of a device's lock. Exactly one variant is set
// per device, and each variant carries only its own fields.
type Hardware interface {
	Kind() HardwareKind
	isHardware()
}

// VirtualHardware has no physical lock; unlocking flips lock_status locally.
type VirtualHardware struct{}

// MQTTHardware is reached through a BLE/MQTT bridge listening on Topic.
type MQTTHardware struct {
	Topic string `json:"topic"`
}

// AWSIoTHardware is a thing registered in AWS IoT Core.
type AWSIoTHardware struct {
	ThingName string `json:"thing_name"`
}

// VendorHardware is a lock managed by a vendor's REST API.
type VendorHardware struct {
	SiteID string `json:"site_id,omitempty"`
	LockID string `json:"lock_id"`
}

func (VirtualHardware) Kind() HardwareKind { return HardwareVirtual }
func (MQTTHardware) Kind() HardwareKind    { return HardwareMQTT }
func (AWSIoTHardware) Kind() HardwareKind  { return HardwareAWSIoT }
func (VendorHardware) Kind() HardwareKind  { return HardwareVendor }

func (VirtualHardware) isHardware() {}
func (MQTTHardware) isHardware()    {}
func (AWSIoTHardware) isHardware()  {}
func (VendorHardware) isHardware()  {}

// Hardware decodes the device's stored address into its variant.
func (d *Device) Hardware() (Hardware, error) {
	var h Hardware
	switch d.HardwareKind {
	case HardwareVirtual, "":
		return VirtualHardware{}, nil
	case HardwareMQTT:
		h = &MQTTHardware{}
	case HardwareAWSIoT:
		h = &AWSIoTHardware{}
	case HardwareVendor:
		h = &VendorHardware{}
	default:
		return nil, fmt.Errorf("unknown hardware kind %q", d.HardwareKind)
	}
	if err := json.Unmarshal([]byte(d.HardwareAddress), h); err != nil {
		return nil, fmt.Errorf("failed to decode %s address of device %s: %w", d.HardwareKind, d.ID, err)
	}
	switch v := h.(type) {
	case *MQTTHardware:
		return *v, nil
	case *AWSIoTHardware:
		return *v, nil
	case *VendorHardware:
		return *v, nil
	}
	return h, nil
}

// SetHardware stores h as the device's hardware kind and address.
func (d *Device) SetHardware(h Hardware) error {
	if h == nil {
		h = VirtualHardware{}
	}
	d.HardwareKind = h.Kind()
	if h.Kind() == HardwareVirtual {
		d.HardwareAddress = ""
		return nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	d.HardwareAddress = string(raw)
	return nil
}
