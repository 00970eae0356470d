package dcop

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// An Inbox is a goroutine-safe FIFO of parsed messages, bounded only
// by memory. Push is called by the broker receiver; TryPop and PopWait
// by the single worker. A buffered(1) notify channel lets PopWait
// block in a select instead of busy-waiting.
type Inbox struct {
	mu       sync.Mutex
	items    *list.List
	notEmpty chan struct{}
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		items:    list.New(),
		notEmpty: make(chan struct{}, 1),
	}
}

// Push enqueues a message.
func (q *Inbox) Push(m Message) {
	q.mu.Lock()
	q.items.PushBack(m)
	q.mu.Unlock()
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the front message without blocking.
func (q *Inbox) TryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return Message{}, false
	}
	q.items.Remove(front)
	return front.Value.(Message), true
}

// PopWait blocks until a message is available, the deadline passes, or
// ctx is cancelled. The returned bool is false on timeout or
// cancellation.
func (q *Inbox) PopWait(ctx context.Context, deadline time.Duration) (Message, bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		if m, ok := q.TryPop(); ok {
			return m, true
		}
		select {
		case <-ctx.Done():
			return Message{}, false
		case <-timer.C:
			return Message{}, false
		case <-q.notEmpty:
			// Something arrived; retry. A stale signal just loops.
		}
	}
}

// Len returns the number of queued messages.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear drops all queued messages. Called between rounds only.
func (q *Inbox) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Init()
}

// Mailbox is the per-kind inbox set of one agent or of the
// coordinator, together with the per-round receive metrics the
// adapter must collect.
type Mailbox struct {
	Child   *Inbox // CHILD and PSEUDO tokens
	Util    *Inbox
	Value   *Inbox
	Waiting *Inbox // ON, ROOT and election bids
	Urgent  *Inbox

	mu           sync.Mutex
	roundCount   int
	roundBytes   int
	totalCount   int
	droppedCount int
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		Child:   NewInbox(),
		Util:    NewInbox(),
		Value:   NewInbox(),
		Waiting: NewInbox(),
		Urgent:  NewInbox(),
	}
}

// Dispatch parses a raw payload and routes it to the matching inbox.
// Malformed payloads are counted as dropped and returned for the
// caller to log; they never break the round.
func (mb *Mailbox) Dispatch(payload string) error {
	m, err := ParseMessage(payload)
	if err != nil {
		mb.mu.Lock()
		mb.droppedCount++
		mb.mu.Unlock()
		return err
	}
	mb.record(m.Size)
	switch m.Kind {
	case KindChild, KindPseudo:
		mb.Child.Push(m)
	case KindUtil:
		mb.Util.Push(m)
	case KindValues:
		mb.Value.Push(m)
	case KindUrgent:
		mb.Urgent.Push(m)
	default:
		mb.Waiting.Push(m)
	}
	return nil
}

// DispatchBid routes a root-election bid into the waiting inbox.
func (mb *Mailbox) DispatchBid(payload string) error {
	b, err := ParseBid(payload)
	if err != nil {
		mb.mu.Lock()
		mb.droppedCount++
		mb.mu.Unlock()
		return err
	}
	mb.record(len(payload))
	mb.Waiting.Push(Message{Sender: b.ID, Bid: &b, Size: len(payload)})
	return nil
}

func (mb *Mailbox) record(size int) {
	mb.mu.Lock()
	mb.roundCount++
	mb.roundBytes += size
	mb.totalCount++
	mb.mu.Unlock()
}

// RoundStats returns the messages received and their average payload
// size since the last ResetRound.
func (mb *Mailbox) RoundStats() (count int, avgSize float64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.roundCount > 0 {
		avgSize = float64(mb.roundBytes) / float64(mb.roundCount)
	}
	return mb.roundCount, avgSize
}

// TotalCount returns the messages received since startup.
func (mb *Mailbox) TotalCount() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.totalCount
}

// ResetRound zeroes the per-round counters. Queued messages are kept:
// the adapter must not lose them across a round unless explicitly
// cleared.
func (mb *Mailbox) ResetRound() {
	mb.mu.Lock()
	mb.roundCount = 0
	mb.roundBytes = 0
	mb.mu.Unlock()
}
