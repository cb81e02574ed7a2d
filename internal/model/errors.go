package model

import "errors"

var (
	// ErrNotAvailable is returned when a device could not be reserved: it is
	// already reserved, in maintenance, or does not exist for the tenant.
	ErrNotAvailable = errors.New("device not available")
	// ErrAlreadyAvailable is returned by a release that found nothing to release.
	ErrAlreadyAvailable = errors.New("device already available")
	ErrUnauthorized     = errors.New("user is not allowed to use this device")
	// ErrInvalidTransition means the event was not in a state that allows the
	// requested operation, or another request moved it first.
	ErrInvalidTransition       = errors.New("invalid event transition")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrHardwareFailed          = errors.New("hardware unlock failed")
	ErrNotFound                = errors.New("not found")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique code")
	ErrNoDeviceAvailable       = errors.New("no device available")
)
