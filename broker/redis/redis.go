// Package redis implements dcop.Broker over Redis pub/sub. Redis
// channels are topic-based and best-effort, which matches the
// transport contract: publishes are fire-and-forget and a slow
// subscriber may miss messages, but per-channel ordering is kept.
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/muglyon/dcop"
)

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets a structured logger for subscription lifecycle
// events. When unset, nothing is emitted.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker is a Redis-backed dcop.Broker.
type Broker struct {
	client *redis.Client
	logger *slog.Logger
}

var _ dcop.Broker = (*Broker)(nil)

// New connects to the Redis instance at addr (host:port).
func New(addr, password string, db int, opts ...Option) *Broker {
	b := &Broker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: dcop.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromClient wraps an existing client, mainly for tests.
func NewFromClient(client *redis.Client, opts ...Option) *Broker {
	b := &Broker{client: client, logger: dcop.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping verifies the connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends the payload on the topic channel.
func (b *Broker) Publish(ctx context.Context, topic, payload string) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe consumes the topic channel on a background goroutine and
// feeds the handler sequentially. The subscription ends when cancel is
// called or ctx is cancelled; a broken connection ends it too, after
// which the handler simply receives nothing more. The caller is not
// notified.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler func(topic, payload string)) (func(), error) {
	sub := b.client.Subscribe(ctx, topic)
	// Force the SUBSCRIBE round-trip so a dead server fails here, not
	// silently in the background.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	b.logger.Debug("redis: subscribed", "topic", topic)

	go func() {
		for msg := range sub.Channel() {
			handler(msg.Channel, msg.Payload)
		}
		b.logger.Debug("redis: subscription closed", "topic", topic)
	}()

	cancel := func() { _ = sub.Close() }
	return cancel, nil
}

// Close releases the underlying client.
func (b *Broker) Close() error { return b.client.Close() }
