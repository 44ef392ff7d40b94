package redis

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/models"

	"github.com/goccy/go-json"
)

// Subscribe delivers every envelope published by any process into the local
// hub. It blocks until ctx is cancelled or the subscription fails.
func (b *Bus) Subscribe(ctx context.Context) error {
	b.logger.Info("[REDIS] Starting Redis pub/sub subscription...")

	// Subscribe to all room events using pattern
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}

	b.logger.Info("[REDIS] Subscribed to Redis pub/sub", "pattern", channelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("[REDIS] Subscription stopped")
			return nil

		case msg, ok := <-ch:
			if !ok {
				b.logger.Info("[REDIS] Redis pub/sub channel closed")
				return nil
			}

			b.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

// deliver hands one published envelope to the local hub.
func (b *Bus) deliver(channel string, payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Error("[REDIS] Error unmarshaling envelope", "channel", channel, "error", err)
		return
	}

	sent, failed := b.hub.Deliver(env.RoomID, env.Payload, env.ExcludeID)
	b.logger.Debug("[REDIS] Relayed envelope",
		"room", env.RoomID,
		"sent", sent,
		"failed", failed,
		"latency", time.Since(time.UnixMilli(env.Timestamp)),
	)
}
