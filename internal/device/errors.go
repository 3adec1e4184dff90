package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrStoreUnavailable) {
//	    // tell the client to retry later
//	}
var (
	// ErrUnauthorized is returned when the identifier is unknown or the
	// password does not match.
	ErrUnauthorized = errors.New("device: unauthorized")

	// ErrStoreUnavailable wraps any failure of the underlying store.
	ErrStoreUnavailable = errors.New("device: store unavailable")

	// ErrAlreadyExists is returned when registering an identifier that is taken.
	ErrAlreadyExists = errors.New("device: already exists")

	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when signup fields fail validation.
	ErrInvalidDevice = errors.New("device: invalid")
)
