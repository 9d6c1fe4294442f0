package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used for real-time delivery.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each notification on the receiver's channel.
type RedisSink struct {
	client Publisher
}

func NewRedisSink(client Publisher) *RedisSink {
	return &RedisSink{client: client}
}

// Channel is the pub/sub channel a receiver subscribes to.
func Channel(receiverID string) string {
	return "notifications:" + receiverID
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.client.Publish(ctx, Channel(n.ReceiverID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
