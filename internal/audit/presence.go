package audit

import (
	"context"
	"time"
)

// PresenceLog writes an online or offline event for every presence change.
// It satisfies relay.PresenceObserver.
type PresenceLog struct {
	repo Repository
}

// NewPresenceLog creates a presence observer backed by repo.
func NewPresenceLog(repo Repository) *PresenceLog {
	return &PresenceLog{repo: repo}
}

// PresenceChanged records the transition.
func (p *PresenceLog) PresenceChanged(ctx context.Context, id string, online bool, at time.Time) error {
	action := ActionOffline
	if online {
		action = ActionOnline
	}
	return p.repo.Create(ctx, &Event{
		Action:    action,
		DeviceID:  id,
		Source:    SourceRelay,
		CreatedAt: at,
	})
}
