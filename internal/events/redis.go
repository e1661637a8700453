package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans events out over Redis pub/sub. Subscribers that are
// offline miss events.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel+":"+e.Type, data).Err()
}

func (p *RedisPublisher) Name() string { return "redis" }

// Close leaves the shared client open; its owner closes it.
func (p *RedisPublisher) Close() error { return nil }
