package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher implements RealtimePublisher over Redis pub/sub. The
// websocket gateway subscribes to the per-user channels and forwards events.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher constructs RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

type realtimeEnvelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// PushToUser publishes the event on the user's channel.
func (p *RedisPublisher) PushToUser(ctx context.Context, userID, event string, payload interface{}) error {
	raw, err := json.Marshal(realtimeEnvelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	return p.client.Publish(ctx, "user:"+userID, raw).Err()
}
