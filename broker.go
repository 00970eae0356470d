package dcop

import "context"

// Broker is the external topic-based publish/subscribe transport.
// Delivery is at-least-once or best-effort; publishes are
// fire-and-forget. Implementations must preserve per-subscriber FIFO
// order for messages from the same publisher.
type Broker interface {
	// Publish sends a UTF-8 payload to a topic. It returns an error
	// only for a broken connection, never for missing subscribers.
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe registers a handler for a topic. The handler is
	// invoked sequentially per subscription, in arrival order. The
	// returned function cancels the subscription.
	Subscribe(ctx context.Context, topic string, handler func(topic, payload string)) (cancel func(), err error)
}
