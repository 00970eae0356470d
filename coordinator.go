package dcop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Coordinator is the single process driving rounds: it broadcasts ON,
// elects a pseudo-tree root from the agents' bids, collects the leaf
// reports, updates priorities, and preempts the schedule with an
// urgent round whenever an agent reports a critical device.
//
// All round state (priorities, previous results) is owned by the
// coordinator's event loop; the urgent path runs on the same loop, so
// no lock is needed beyond the running/paused flags exposed for
// observation.
type Coordinator struct {
	broker  Broker
	agents  []AgentID
	params  Params
	logger  *slog.Logger
	metrics Metrics
	store   RoundStore
	mailbox *Mailbox

	priorities map[AgentID]int
	oldResults map[AgentID]int // last chosen value index per agent

	running atomic.Bool
	paused  atomic.Bool

	urgentCh chan AgentID
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorParams overrides the engine constants.
func WithCoordinatorParams(p Params) CoordinatorOption {
	return func(c *Coordinator) { c.params = p }
}

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorMetrics stores a telemetry sink on the coordinator.
// The coordinator does not report rounds, phases or messages to it;
// that telemetry comes from agents only.
func WithCoordinatorMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithStore persists every completed round.
func WithStore(s RoundStore) CoordinatorOption {
	return func(c *Coordinator) { c.store = s }
}

// NewCoordinator creates a coordinator for the given fleet.
func NewCoordinator(broker Broker, agents []AgentID, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		broker:     broker,
		agents:     append([]AgentID(nil), agents...),
		params:     DefaultParams(),
		logger:     NopLogger(),
		metrics:    nopMetrics{},
		mailbox:    NewMailbox(),
		priorities: make(map[AgentID]int),
		oldResults: make(map[AgentID]int),
		urgentCh:   make(chan AgentID, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, id := range c.agents {
		c.priorities[id] = 0
		c.oldResults[id] = c.params.InfinityIndex()
	}
	return c
}

// Running reports whether a round is in flight.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Paused reports whether the scheduled loop is paused for an urgent
// round.
func (c *Coordinator) Paused() bool { return c.paused.Load() }

// Priority returns an agent's current priority.
func (c *Coordinator) Priority(id AgentID) int { return c.priorities[id] }

// Run subscribes to the server topics and drives rounds with period
// Params.Round until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	cancelServer, err := c.broker.Subscribe(ctx, TopicServer, func(_, payload string) {
		if derr := c.mailbox.Dispatch(payload); derr != nil {
			c.logger.Warn(derr.Error(), "topic", TopicServer, "type", LogInfo)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicServer, err)
	}
	defer cancelServer()

	cancelRoot, err := c.broker.Subscribe(ctx, TopicServerRoot, func(_, payload string) {
		if derr := c.mailbox.DispatchBid(payload); derr != nil {
			c.logger.Warn(derr.Error(), "topic", TopicServerRoot, "type", LogInfo)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicServerRoot, err)
	}
	defer cancelRoot()

	go c.urgentListener(ctx)

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			c.logger.Warn(err.Error(), "topic", TopicServer, "type", LogInfo)
		}

		select {
		case <-ctx.Done():
			return nil
		case id := <-c.urgentCh:
			c.runUrgentRound(ctx, id)
		case <-time.After(c.params.Round):
		}
	}
}

// urgentListener validates URGT messages and coalesces them into the
// preemption channel. An urgent id outside the topology is ignored.
func (c *Coordinator) urgentListener(ctx context.Context) {
	for {
		m, ok := c.mailbox.Urgent.PopWait(ctx, c.params.Round)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !contains(c.agents, m.Sender) {
			c.logger.Warn("urgent root not in topology, ignoring",
				"topic", TopicServer, "type", LogInfo, "sender", int(m.Sender))
			continue
		}
		select {
		case c.urgentCh <- m.Sender:
		default:
			// An urgent round is already pending; one is enough.
		}
	}
}

// runUrgentRound waits for the main loop to idle (guaranteed: it runs
// on the main loop), then executes exactly one round with the urgent
// sender forced as root. Its priority is raised and doubled so the
// forced election also holds against later bids, and the increment is
// merged into the main priority state.
func (c *Coordinator) runUrgentRound(ctx context.Context, id AgentID) {
	c.paused.Store(true)
	defer c.paused.Store(false)

	c.priorities[id]++
	c.priorities[id] *= 2

	if _, err := c.runRound(ctx, id, true); err != nil {
		c.logger.Warn(err.Error(), "topic", TopicServer, "type", LogInfo)
	}
}

// RunOnce drives a single scheduled round. Exposed for simulations
// and tests; Run calls it in a loop.
func (c *Coordinator) RunOnce(ctx context.Context) (RoundRecord, error) {
	return c.runRound(ctx, 0, false)
}

func (c *Coordinator) runRound(ctx context.Context, forcedRoot AgentID, urgent bool) (RoundRecord, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	rec := RoundRecord{
		ID:        NewRoundID(),
		StartedAt: time.Now(),
		Urgent:    urgent,
	}
	logServer(c.logger, LogInfo, "Start")

	// Late leaf reports from the previous round would otherwise count
	// toward this round's coverage.
	c.mailbox.Value.Clear()

	for _, id := range c.agents {
		if err := c.broker.Publish(ctx, TopicAgent(id), EncodeOn()); err != nil {
			return rec, fmt.Errorf("broadcast ON: %w", err)
		}
	}

	root := c.chooseRoot(ctx, forcedRoot)
	rec.Root = root
	for _, id := range c.agents {
		if err := c.broker.Publish(ctx, TopicAgent(id), EncodeRoot(root)); err != nil {
			return rec, fmt.Errorf("broadcast ROOT: %w", err)
		}
	}

	rec.Results = c.collectValues(ctx)
	c.updatePriorities(rec.Results)
	rec.Priorities = clonePriorities(c.priorities)
	rec.Duration = time.Since(rec.StartedAt)

	c.emitResults(rec)
	if c.store != nil {
		if err := c.store.SaveRound(ctx, rec); err != nil {
			c.logger.Warn("store round: "+err.Error(), "topic", TopicServer, "type", LogInfo)
		}
	}
	return rec, nil
}

// chooseRoot scores the incoming bids as degree + 2*priority and
// elects the maximum, ties broken by the smallest id. A forced root
// (urgent path) short-circuits the election but the bids are still
// drained so they cannot leak into the next round.
func (c *Coordinator) chooseRoot(ctx context.Context, forced AgentID) AgentID {
	deadline := time.Now().Add(c.params.Timeout)
	bids := make(map[AgentID]int)
	for len(bids) < len(c.agents) {
		m, ok := c.mailbox.Waiting.PopWait(ctx, time.Until(deadline))
		if !ok {
			break
		}
		if m.Bid == nil {
			continue
		}
		bids[m.Bid.ID] = m.Bid.Degree
	}

	if forced != 0 {
		return forced
	}

	root := AgentID(0)
	best := -1
	for _, id := range c.agents {
		deg, ok := bids[id]
		if !ok {
			continue
		}
		score := deg + 2*c.priorities[id]
		if score > best || (score == best && id < root) {
			root = id
			best = score
		}
	}
	if root == 0 && len(c.agents) > 0 {
		// No bids at all; fall back to the smallest id so the round
		// still proceeds.
		root = c.agents[0]
		for _, id := range c.agents {
			if id < root {
				root = id
			}
		}
		c.logger.Warn("no bids received, falling back to smallest id",
			"topic", TopicServerRoot, "type", LogInfo)
	}
	return root
}

// collectValues merges leaf reports until they cover every agent or
// the round deadline passes.
func (c *Coordinator) collectValues(ctx context.Context) Assignment {
	acc := make(Assignment)
	deadline := time.Now().Add(c.params.Round)
	for !acc.Covers(c.agents) {
		m, ok := c.mailbox.Value.PopWait(ctx, time.Until(deadline))
		if !ok {
			c.logger.Warn("round timeout before full coverage",
				"topic", TopicServer, "type", LogInfo, "received", len(acc))
			break
		}
		if m.Values == nil {
			continue
		}
		acc.Merge(m.Values)
	}
	return acc
}

// updatePriorities applies the escalation rule: an agent that keeps
// needing urgent interventions (new value below the urgency threshold
// after a previous one at or below it) climbs; any relaxed agent
// resets to zero.
func (c *Coordinator) updatePriorities(results Assignment) {
	for _, id := range c.agents {
		idx, ok := results.Get(id)
		if !ok {
			continue
		}
		if c.params.Domain[idx] < c.params.UrgentTime {
			if c.params.Domain[c.oldResults[id]] <= c.params.UrgentTime {
				c.priorities[id]++
			}
		} else {
			c.priorities[id] = 0
		}
		c.oldResults[id] = idx
	}
}

// emitResults logs the schedule ordered by descending priority.
func (c *Coordinator) emitResults(rec RoundRecord) {
	ids := append([]AgentID(nil), c.agents...)
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := c.priorities[ids[i]], c.priorities[ids[j]]
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})

	var b strings.Builder
	for _, id := range ids {
		idx, ok := rec.Results.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Area %d need intervention in %d minutes. PRIORITY : %d ",
			id, c.params.Domain[idx], c.priorities[id])
	}
	logServer(c.logger, LogResults, b.String())
}

func clonePriorities(p map[AgentID]int) map[AgentID]int {
	out := make(map[AgentID]int, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
