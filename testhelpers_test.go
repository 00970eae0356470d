package dcop

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// testParams returns engine constants with deadlines tight enough for
// in-process tests.
func testParams() Params {
	p := DefaultParams()
	p.Timeout = 2 * time.Second
	p.Round = 5 * time.Second
	return p
}

// chanBroker is an in-package broker for engine tests: topic fan-out
// over per-subscriber FIFO queues, each drained by one goroutine.
type chanBroker struct {
	mu   sync.Mutex
	subs map[string][]*chanSub
}

type chanSub struct {
	handler  func(topic, payload string)
	mu       sync.Mutex
	queue    *list.List
	notEmpty chan struct{}
	done     chan struct{}
}

func newChanBroker() *chanBroker {
	return &chanBroker{subs: make(map[string][]*chanSub)}
}

func (b *chanBroker) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	subs := append([]*chanSub(nil), b.subs[topic]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		s.queue.PushBack([2]string{topic, payload})
		s.mu.Unlock()
		select {
		case s.notEmpty <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *chanBroker) Subscribe(_ context.Context, topic string, handler func(topic, payload string)) (func(), error) {
	s := &chanSub{
		handler:  handler,
		queue:    list.New(),
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	go func() {
		for {
			s.mu.Lock()
			front := s.queue.Front()
			if front != nil {
				s.queue.Remove(front)
			}
			s.mu.Unlock()
			if front != nil {
				d := front.Value.([2]string)
				s.handler(d[0], d[1])
				continue
			}
			select {
			case <-s.done:
				return
			case <-s.notEmpty:
			}
		}
	}()

	return func() { close(s.done) }, nil
}

// memStore is an in-memory RoundStore for coordinator tests.
type memStore struct {
	mu      sync.Mutex
	records []RoundRecord
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) SaveRound(_ context.Context, rec RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) LastRound(context.Context) (RoundRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return RoundRecord{}, false, nil
	}
	return s.records[len(s.records)-1], true, nil
}

func (s *memStore) Close() error { return nil }

// quietRoom builds a room with one healthy long-running device, the
// state in which nothing forces a call.
func quietRoom(id AgentID) *Area {
	return &Area{
		ID:   id,
		Kind: Room,
		Tau:  10,
		Devices: []Device{
			{ID: int(id)*100 + 1, EndOfProg: Infinity},
		},
		CurrentV: Infinity,
	}
}

// linkAreas records a symmetric neighbor relation. Degrees must be
// fixed up with refreshDegrees once all links exist.
func linkAreas(a, b *Area) {
	a.Neighbors = append(a.Neighbors, Neighbor{ID: b.ID})
	b.Neighbors = append(b.Neighbors, Neighbor{ID: a.ID})
}

func refreshDegrees(areas ...*Area) {
	degree := make(map[AgentID]int)
	for _, a := range areas {
		degree[a.ID] = a.Degree()
	}
	for _, a := range areas {
		for i := range a.Neighbors {
			a.Neighbors[i].Degree = degree[a.Neighbors[i].ID]
		}
	}
}

// startFleet launches one agent per area on the broker and returns a
// stop function.
func startFleet(ctx context.Context, broker Broker, params Params, areas ...*Area) (agents []*Agent, stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	for _, area := range areas {
		agent := NewAgent(area, broker, WithParams(params))
		agents = append(agents, agent)
		go agent.Run(runCtx)
	}
	// Give the subscriptions a moment to land before the first ON.
	time.Sleep(50 * time.Millisecond)
	return agents, cancel
}
