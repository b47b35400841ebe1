package liveview

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// flushChannel is the single fixed Redis channel flush events are
// published on. Unlike the webinar room bridge this is adapted from,
// there is exactly one logical broadcast, not one per resource.
const flushChannel = "streamstats:flush"

const publishTimeout = 5 * time.Second

// RedisPubSub implements RedisPublisher and RedisSubscriber over a
// single Redis pub/sub channel, so a flush broadcast reaches dashboard
// clients connected to any instance.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishFlush implements RedisPublisher.
func (r *RedisPubSub) PublishFlush(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, flushChannel, payload).Err()
}

// SubscribeFlush implements RedisSubscriber.
func (r *RedisPubSub) SubscribeFlush(handler func(payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, flushChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
