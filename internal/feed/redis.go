package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed publishes changes on a Redis channel and replays every message it
// receives into a local Hub, so each API replica sees writes made by the others.
type RedisFeed struct {
	client  *redis.Client
	channel string
	hub     *Hub

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(redisURL, channel string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client, channel), nil
}

// NewRedisFeedWithClient creates a feed from an existing Redis client.
func NewRedisFeedWithClient(client *redis.Client, channel string) *RedisFeed {
	return &RedisFeed{
		client:  client,
		channel: channel,
		hub:     NewHub(),
	}
}

// Start subscribes to the channel and dispatches incoming changes until
// Close is called or ctx ends.
func (f *RedisFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubsub != nil {
		return nil
	}

	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	f.pubsub = pubsub
	f.done = make(chan struct{})
	go f.loop(ctx, pubsub.Channel(), f.done)
	return nil
}

func (f *RedisFeed) loop(ctx context.Context, messages <-chan *redis.Message, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Printf("feed: drop malformed change on %s: %v", msg.Channel, err)
				continue
			}
			if err := f.hub.Publish(ctx, change); err != nil {
				return
			}
		}
	}
}

// Publish sends the change to every replica, this one included. Local
// handlers fire when the message comes back from Redis.
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) OnChange(filter Filter, handler Handler) func() {
	return f.hub.OnChange(filter, handler)
}

// Ping checks if Redis is reachable.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close stops the subscription and closes the Redis connection.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	if f.pubsub != nil {
		close(f.done)
		_ = f.pubsub.Close()
		f.pubsub = nil
	}
	f.mu.Unlock()
	return f.client.Close()
}
