package observer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/muglyon/dcop"
)

// EngineMetrics implements dcop.Metrics on top of the OTEL
// instruments. One round becomes one dcop.round span with an event
// per finished phase, plus counters and histograms for messages and
// durations.
type EngineMetrics struct {
	inst *Instruments

	mu    sync.Mutex
	spans map[dcop.AgentID]trace.Span
}

var _ dcop.Metrics = (*EngineMetrics)(nil)

// NewEngineMetrics wraps the instruments as a telemetry sink for
// agents and coordinators.
func NewEngineMetrics(inst *Instruments) *EngineMetrics {
	return &EngineMetrics{inst: inst, spans: make(map[dcop.AgentID]trace.Span)}
}

// RoundStarted opens the round span for an agent.
func (e *EngineMetrics) RoundStarted(id dcop.AgentID) {
	_, span := e.inst.Tracer.Start(context.Background(), "dcop.round",
		trace.WithAttributes(AttrAgentID.Int(int(id))))
	e.mu.Lock()
	e.spans[id] = span
	e.mu.Unlock()
}

// PhaseDone records one finished phase.
func (e *EngineMetrics) PhaseDone(id dcop.AgentID, phase string, d time.Duration) {
	e.inst.PhaseDuration.Record(context.Background(), float64(d.Milliseconds()),
		metric.WithAttributes(AttrAgentID.Int(int(id)), AttrPhase.String(phase)))

	e.mu.Lock()
	span := e.spans[id]
	e.mu.Unlock()
	if span != nil {
		span.AddEvent("phase." + phase + ".done")
	}
}

// RoundDone closes the round span and records the round metrics.
func (e *EngineMetrics) RoundDone(id dcop.AgentID, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(AttrAgentID.Int(int(id)), AttrStatus.String(status))
	e.inst.RoundsTotal.Add(context.Background(), 1, attrs)
	e.inst.RoundDuration.Record(context.Background(), float64(d.Milliseconds()), attrs)

	e.mu.Lock()
	span := e.spans[id]
	delete(e.spans, id)
	e.mu.Unlock()
	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.SetAttributes(AttrStatus.String(status))
		span.End()
	}
}

// MessageReceived counts one received payload.
func (e *EngineMetrics) MessageReceived(id dcop.AgentID, size int) {
	attrs := metric.WithAttributes(AttrAgentID.Int(int(id)))
	e.inst.MessagesReceived.Add(context.Background(), 1, attrs)
	e.inst.MessageBytes.Record(context.Background(), int64(size), attrs)
}
