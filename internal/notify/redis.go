package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisListKey is the list collaborators drain with BLPOP
	RedisListKey = "events:pending"
	// RedisChannel receives every event for live subscribers
	RedisChannel = "events"
)

// RedisNotifier pushes events onto a Redis list and publishes them on a
// channel
type RedisNotifier struct {
	client  redis.UniversalClient
	listKey string
	channel string
}

// NewRedisNotifier creates a RedisNotifier using the default key names
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client, listKey: RedisListKey, channel: RedisChannel}
}

// Notify implements Notifier
func (n *RedisNotifier) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// RPUSH keeps the list FIFO for BLPOP consumers
	pipe := n.client.TxPipeline()
	pipe.RPush(ctx, n.listKey, data)
	pipe.Publish(ctx, n.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// Pending returns the number of events waiting in the list
func (n *RedisNotifier) Pending(ctx context.Context) (int64, error) {
	return n.client.LLen(ctx, n.listKey).Result()
}
