// Package redis relays room broadcasts between processes over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/ws"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const channelPrefix = "room:"

// Bus is a ws.Registry shared by every relay process connected to the same
// Redis. Membership stays local; broadcasts travel through Redis and are
// delivered by each process's Subscribe loop.
type Bus struct {
	rdb    *redis.Client
	hub    *ws.Hub
	logger *slog.Logger
}

// NewClient connects to the Redis at redisURL.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return rdb, nil
}

func NewBus(rdb *redis.Client, hub *ws.Hub, logger *slog.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		hub:    hub,
		logger: logger,
	}
}

func (b *Bus) Close() error {
	return b.rdb.Close()
}

func (b *Bus) Join(roomID string, m ws.Member) {
	b.hub.Join(roomID, m)
}

func (b *Bus) Leave(roomID string, m ws.Member) {
	b.hub.Leave(roomID, m)
}

func (b *Bus) Broadcast(ctx context.Context, roomID string, event models.Outbound, exclude ws.Member) error {
	payload, err := models.EncodeOutbound(event)
	if err != nil {
		return err
	}

	env := models.Envelope{
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if exclude != nil {
		env.ExcludeID = exclude.ID()
	}

	return b.publish(ctx, env)
}

func (b *Bus) publish(ctx context.Context, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("[REDIS] Failed to marshal envelope", "room", env.RoomID, "error", err)
		return err
	}

	channel := channelPrefix + env.RoomID
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Error("[REDIS] Failed to publish event", "channel", channel, "error", err)
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	return nil
}
