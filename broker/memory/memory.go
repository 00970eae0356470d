// Package memory implements dcop.Broker as an in-process topic bus.
// It backs the single-process simulation and the package tests: every
// subscriber gets its own FIFO delivery queue drained by a dedicated
// goroutine, so publishers never block and per-subscriber ordering
// matches arrival order.
package memory

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/muglyon/dcop"
)

// Broker is an in-process dcop.Broker.
type Broker struct {
	mu     sync.Mutex
	subs   map[string][]*subscriber
	nextID int
	closed bool
}

var _ dcop.Broker = (*Broker)(nil)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("memory broker closed")

type subscriber struct {
	id      int
	handler func(topic, payload string)

	mu       sync.Mutex
	queue    *list.List
	notEmpty chan struct{}
	done     chan struct{}
}

type delivery struct {
	topic   string
	payload string
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[string][]*subscriber)}
}

// Publish delivers the payload to every subscriber of the topic.
// Missing subscribers are not an error: publishes are fire-and-forget.
func (b *Broker) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.push(delivery{topic: topic, payload: payload})
	}
	return nil
}

// Subscribe registers a handler. The handler runs on a dedicated
// goroutine, one delivery at a time, in arrival order.
func (b *Broker) Subscribe(_ context.Context, topic string, handler func(topic, payload string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &subscriber{
		id:       b.nextID,
		handler:  handler,
		queue:    list.New(),
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.nextID++
	b.subs[topic] = append(b.subs[topic], s)
	go s.drain()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		kept := b.subs[topic][:0]
		for _, other := range b.subs[topic] {
			if other.id != s.id {
				kept = append(kept, other)
			}
		}
		b.subs[topic] = kept
		s.stop()
	}
	return cancel, nil
}

// Close stops all subscribers.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.stop()
		}
	}
	b.subs = map[string][]*subscriber{}
}

func (s *subscriber) push(d delivery) {
	s.mu.Lock()
	s.queue.PushBack(d)
	s.mu.Unlock()
	select {
	case s.notEmpty <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		front := s.queue.Front()
		if front != nil {
			s.queue.Remove(front)
		}
		s.mu.Unlock()

		if front != nil {
			d := front.Value.(delivery)
			s.handler(d.topic, d.payload)
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.notEmpty:
		}
	}
}

func (s *subscriber) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
