package dcop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Metrics receives engine telemetry. The observer package provides an
// OTEL-backed implementation; the default discards everything.
type Metrics interface {
	RoundStarted(id AgentID)
	PhaseDone(id AgentID, phase string, d time.Duration)
	RoundDone(id AgentID, d time.Duration, err error)
	MessageReceived(id AgentID, size int)
}

type nopMetrics struct{}

func (nopMetrics) RoundStarted(AgentID)                     {}
func (nopMetrics) PhaseDone(AgentID, string, time.Duration) {}
func (nopMetrics) RoundDone(AgentID, time.Duration, error)  {}
func (nopMetrics) MessageReceived(AgentID, int)             {}

// Agent is the per-area worker. It owns the live area state, listens
// on the area's topic, and runs one DPOP round per coordinator ON.
//
// Inside the agent a background receiver dispatches broker deliveries
// into the per-kind mailbox; the single worker goroutine consumes them
// and executes the three phases strictly in order. The event goroutine
// (see EventGenerator) mutates the live area; every round computes on
// a snapshot taken at round start, so mid-round mutations affect only
// the next round.
type Agent struct {
	area    *Area
	broker  Broker
	params  Params
	logger  *slog.Logger
	metrics Metrics
	mailbox *Mailbox

	urgent <-chan AgentID

	iterations int
	lastRound  time.Time
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithParams overrides the engine constants.
func WithParams(p Params) AgentOption {
	return func(a *Agent) { a.params = p }
}

// WithLogger sets the structured logger. When unset, nothing is
// emitted.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m Metrics) AgentOption {
	return func(a *Agent) { a.metrics = m }
}

// WithUrgentSource wires the channel on which the event generator
// reports devices entering critical state; the agent forwards each
// report to the coordinator as an URGT message.
func WithUrgentSource(ch <-chan AgentID) AgentOption {
	return func(a *Agent) { a.urgent = ch }
}

// NewAgent creates the worker for one monitored area.
func NewAgent(area *Area, broker Broker, opts ...AgentOption) *Agent {
	a := &Agent{
		area:    area,
		broker:  broker,
		params:  DefaultParams(),
		logger:  NopLogger(),
		metrics: nopMetrics{},
		mailbox: NewMailbox(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Area returns the live area. The caller must use its methods, which
// synchronize with the event goroutine.
func (a *Agent) Area() *Area { return a.area }

// Mailbox exposes the messaging adapter, mainly for tests and the
// observability wrappers.
func (a *Agent) Mailbox() *Mailbox { return a.mailbox }

// Run subscribes to the agent's topic and serves rounds until ctx is
// cancelled. It returns an error only when the subscription cannot be
// established; a connection that breaks after subscribing is not
// detected and the loop keeps waiting for ON. Recoverable per-round
// errors never exit the loop.
func (a *Agent) Run(ctx context.Context) error {
	cancel, err := a.broker.Subscribe(ctx, TopicAgent(a.area.ID), func(_, payload string) {
		if derr := a.mailbox.Dispatch(payload); derr != nil {
			a.logger.Warn(derr.Error(), "topic", TopicAgent(a.area.ID), "type", LogInfo)
		} else {
			a.metrics.MessageReceived(a.area.ID, len(payload))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicAgent(a.area.ID), err)
	}
	defer cancel()

	if a.urgent != nil {
		go a.forwardUrgent(ctx)
	}

	for {
		m, ok := a.mailbox.Waiting.PopWait(ctx, a.params.Round)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if m.Kind != KindOn {
			// A stale ROOT from a round this agent missed.
			continue
		}
		a.runRound(ctx)
	}
}

// forwardUrgent relays critical-state notifications from the event
// goroutine to the coordinator.
func (a *Agent) forwardUrgent(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-a.urgent:
			logTo(a.logger, id, LogEvent, "device enter in critical state")
			if err := a.broker.Publish(ctx, TopicServer, EncodeUrgent(id)); err != nil {
				a.logger.Warn("urgent publish failed",
					"topic", TopicServer, "type", LogEvent, "error", err.Error())
			}
		}
	}
}

// runRound executes one full DPOP round. All tensors live in the
// round context and are dropped when it returns.
func (a *Agent) runRound(ctx context.Context) {
	start := time.Now()
	a.metrics.RoundStarted(a.area.ID)
	logTo(a.logger, a.area.ID, LogInfo, "Iteration "+strconv.Itoa(a.iterations))

	if a.iterations > 0 {
		minutes := int(time.Since(a.lastRound).Minutes())
		a.area.AdvanceTime(minutes)
		logTo(a.logger, a.area.ID, LogState, a.area.StateJSON())
	}
	a.lastRound = time.Now()
	a.iterations++
	a.mailbox.ResetRound()

	// Tokens from an aborted previous round must not leak into this
	// one; legitimate traffic for this round cannot arrive before the
	// bid below goes out.
	a.mailbox.Child.Clear()
	a.mailbox.Util.Clear()
	a.mailbox.Value.Clear()

	snapshot := a.area.Snapshot()
	rc := &roundContext{
		ctx:     ctx,
		params:  a.params,
		area:    snapshot,
		mailbox: a.mailbox,
		broker:  a.broker,
		logger:  a.logger,
	}

	rc.tree.IsRoot = electRoot(rc)

	var err error
	strat := strategiesFor(snapshot.Kind)
	for _, phase := range []struct {
		name string
		run  func() error
	}{
		{"dfs", func() error { return strat.dfs.Build(rc) }},
		{"util", func() error { return strat.util.Propagate(rc) }},
		{"value", func() error { return strat.value.Propagate(rc) }},
	} {
		phaseStart := time.Now()
		err = phase.run()
		a.metrics.PhaseDone(a.area.ID, phase.name, time.Since(phaseStart))
		if err != nil {
			break
		}
	}

	var overflow *ErrRankOverflow
	switch {
	case err == nil:
		a.applyResult(snapshot)
		a.logResults(snapshot, start)
	case errors.As(err, &overflow):
		// Fatal to this round only: drop the per-round state and wait
		// for the next ON.
		logCritical(a.logger, TopicAgent(a.area.ID), err.Error())
	default:
		a.logger.Warn(err.Error(), "topic", TopicAgent(a.area.ID), "type", LogInfo)
	}
	a.metrics.RoundDone(a.area.ID, time.Since(start), err)
}

// applyResult copies the snapshot's decisions back onto the live area.
func (a *Agent) applyResult(snapshot *Area) {
	a.area.SetValue(snapshot.CurrentV)
	if len(snapshot.Rooms) == 0 {
		return
	}
	a.area.mu.Lock()
	defer a.area.mu.Unlock()
	for _, decided := range snapshot.Rooms {
		for _, live := range a.area.Rooms {
			if live.ID == decided.ID {
				live.SetValue(decided.CurrentV)
			}
		}
	}
}

func (a *Agent) logResults(snapshot *Area, start time.Time) {
	count, avg := a.mailbox.RoundStats()
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("Nb msg RECEIVED for this it : %d", count))
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("Avg size of msg RECEIVED (bytes) : %.1f", avg))
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("Total Nb msg RECEIVED : %d", a.mailbox.TotalCount()))
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("Execution time (s) : %.3f", time.Since(start).Seconds()))
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("v = %d", snapshot.CurrentV))
	logTo(a.logger, a.area.ID, LogResults,
		fmt.Sprintf("const val : %d", LocalCost(a.params, snapshot, snapshot.CurrentV)))
}
