package ws

import (
	"context"
	"log/slog"

	"chat-relay/internal/models"
)

// Presence turns session lifecycle transitions into online_status broadcasts.
type Presence struct {
	registry Registry
	logger   *slog.Logger
}

func NewPresence(registry Registry, logger *slog.Logger) *Presence {
	return &Presence{registry: registry, logger: logger}
}

// Notify broadcasts that user is now status in roomID. A nil exclude reaches
// every member, the announced connection included.
func (p *Presence) Notify(ctx context.Context, roomID string, user models.UserSummary, status models.PresenceStatus, exclude Member) error {
	if err := p.registry.Broadcast(ctx, roomID, models.NewOnlineStatusEvent(user, status), exclude); err != nil {
		return err
	}
	p.logger.Debug("[PRESENCE] Published presence", "room", roomID, "user", user.ID, "status", status)
	return nil
}
