package device

import (
	"context"
	"time"
)

// Identity is what a successful verification yields. It is echoed back to
// the connecting client as the "user" field of auth_status.
type Identity struct {
	Username string `json:"username"`
}

// Device is a stored device record.
type Device struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// Verifier checks device credentials. Implementations must be safe for
// concurrent use by many connections.
type Verifier interface {
	// Verify returns the owner identity for id when password matches.
	// Returns ErrUnauthorized or an error wrapping ErrStoreUnavailable.
	Verify(ctx context.Context, id, password string) (Identity, error)
}

// Repository is the device store contract used by the relay and the API.
type Repository interface {
	Verifier

	// Register creates a device owned by username.
	// Returns ErrAlreadyExists or ErrInvalidDevice.
	Register(ctx context.Context, username, id, password string) error

	// Get retrieves a device by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Device, error)

	// TouchLastSeen records the time a device was last connected.
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}
