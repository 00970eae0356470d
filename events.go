package dcop

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// EventGenerator is the per-agent simulation goroutine: every tick it
// may flip a device into critical state, plug a new device in, or
// simulate a healthcare professional pass that pops or reprograms
// devices. Critical flips are reported on the notification channel so
// the agent can raise an URGT preemption.
type EventGenerator struct {
	area     *Area
	rng      *rand.Rand
	logger   *slog.Logger
	interval time.Duration
	critical chan<- AgentID
}

// EventOption configures an EventGenerator.
type EventOption func(*EventGenerator)

// WithEventInterval overrides the tick period (default 30s).
func WithEventInterval(d time.Duration) EventOption {
	return func(g *EventGenerator) { g.interval = d }
}

// WithEventLogger sets the structured logger.
func WithEventLogger(l *slog.Logger) EventOption {
	return func(g *EventGenerator) { g.logger = l }
}

// WithCriticalSink wires the channel critical flips are reported on.
func WithCriticalSink(ch chan<- AgentID) EventOption {
	return func(g *EventGenerator) { g.critical = ch }
}

// WithEventSeed makes the generator deterministic.
func WithEventSeed(seed int64) EventOption {
	return func(g *EventGenerator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// NewEventGenerator creates a generator for one area.
func NewEventGenerator(area *Area, opts ...EventOption) *EventGenerator {
	g := &EventGenerator{
		area:     area,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   NopLogger(),
		interval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run ticks until ctx is cancelled.
func (g *EventGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.rng.Float64() < 0.05 {
				g.fire(ctx)
			}
		}
	}
}

// fire generates one random event.
func (g *EventGenerator) fire(ctx context.Context) {
	p := g.rng.Float64()
	switch {
	case p < 0.2 && g.area.DeviceCount() > 0:
		if g.area.SetDeviceCritical() {
			logTo(g.logger, g.area.ID, LogEvent, "device enter in critical state")
			if g.critical != nil {
				select {
				case g.critical <- g.area.ID:
				case <-ctx.Done():
				}
			}
		}

	case p < 0.4:
		d := Device{
			ID:        int(g.area.ID)*100 + g.area.DeviceCount() + 1,
			EndOfProg: 5 + g.rng.Intn(Infinity-5),
		}
		g.area.UpsertDevice(d)
		logTo(g.logger, g.area.ID, LogEvent, "new device plugged in")

	default:
		g.area.PopOrReprogramDevices(func(Device) bool { return g.rng.Float64() >= 0.2 })
		logTo(g.logger, g.area.ID, LogEvent, "healthcare pro reboot devices")
	}
}
