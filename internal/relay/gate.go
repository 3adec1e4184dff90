package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

// Gate runs the registration handshake against a device.Verifier.
type Gate struct {
	verifier device.Verifier
	registry *Registry
	logger   *logging.Logger
	metrics  *Metrics
}

// NewGate creates a Gate that admits connections into registry.
func NewGate(verifier device.Verifier, registry *Registry, logger *logging.Logger, metrics *Metrics) *Gate {
	return &Gate{
		verifier: verifier,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Authenticate verifies (id, password) exactly once and replies on conn.
// Empty credentials are passed through; rejecting them is the Verifier's
// rule.
//
// On success conn is registered under id, any different connection it
// replaced is closed with CloseSuperseded, and an authorized auth_status
// is sent. On failure nothing is registered and the error wraps either
// device.ErrUnauthorized or device.ErrStoreUnavailable. Closing conn after
// a failure is the caller's job.
func (g *Gate) Authenticate(ctx context.Context, conn *Conn, id, password string) (device.Identity, error) {
	ident, err := g.verifier.Verify(ctx, id, password)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrUnauthorized):
		g.reject(conn, id, "bad credentials")
		return device.Identity{}, err
	default:
		// Anything else is the store failing, never a bad password.
		g.metrics.recordAuth(authUnavailable)
		g.logger.Error("credential verification unavailable",
			"conn_id", conn.ID(), "device_id", id, "error", err)
		g.reply(conn, ErrorFrame(MsgAuthUnavailable))
		if !errors.Is(err, device.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", device.ErrStoreUnavailable, err)
		}
		return device.Identity{}, err
	}

	if prev := g.registry.Insert(id, conn); prev != nil && prev != conn {
		prev.CloseWithReason(CloseSuperseded, "superseded")
		g.metrics.recordSuperseded()
		g.logger.Info("connection superseded",
			"device_id", id, "old_conn_id", prev.ID(), "new_conn_id", conn.ID())
	}
	g.metrics.setRegistered(g.registry.Len())
	g.metrics.recordAuth(authAuthorized)

	g.reply(conn, authorizedFrame(ident.Username))
	g.logger.Info("device registered",
		"conn_id", conn.ID(), "device_id", id, "user", ident.Username)
	return ident, nil
}

func (g *Gate) reject(conn *Conn, id, reason string) {
	g.metrics.recordAuth(authUnauthorized)
	g.logger.Warn("registration rejected",
		"conn_id", conn.ID(), "device_id", id, "reason", reason)
	g.reply(conn, unauthorizedFrame())
}

func (g *Gate) reply(conn *Conn, frame []byte) {
	if err := conn.Send(frame); err != nil {
		g.logger.Debug("handshake reply not sent", "conn_id", conn.ID(), "error", err)
	}
}
