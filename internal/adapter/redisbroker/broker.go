package redisbroker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sockpulse/sockpulse/internal/router"
)

// Broker implements the router's broker client on Redis pub/sub. Each
// Connect opens a fresh pub/sub connection; Subscribe and PSubscribe apply
// to the connection opened by the most recent Connect.
type Broker struct {
	rdb *redis.Client

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewBroker wraps an existing Redis client. The client is shared, so Close
// only tears down the pub/sub connection, not the client.
func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Connect opens a pub/sub connection and returns its message stream. A
// previous connection, if any, is closed first.
func (b *Broker) Connect(ctx context.Context) (<-chan router.BrokerMessage, error) {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.sub != nil {
		_ = b.sub.Close()
	}
	sub := b.rdb.Subscribe(ctx)
	b.sub = sub
	b.mu.Unlock()

	out := make(chan router.BrokerMessage, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- router.BrokerMessage{
				Channel: msg.Channel,
				Pattern: msg.Pattern,
				Payload: []byte(msg.Payload),
			}
		}
	}()
	return out, nil
}

// Publish sends a payload to a channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe adds channel subscriptions to the current connection.
func (b *Broker) Subscribe(ctx context.Context, channels ...string) error {
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub == nil {
		return redis.ErrClosed
	}
	return sub.Subscribe(ctx, channels...)
}

// PSubscribe adds pattern subscriptions to the current connection.
// Patterns use Redis glob syntax, so the router's trailing-* patterns work
// unchanged.
func (b *Broker) PSubscribe(ctx context.Context, patterns ...string) error {
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub == nil {
		return redis.ErrClosed
	}
	return sub.PSubscribe(ctx, patterns...)
}

// Close tears down the current pub/sub connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}
