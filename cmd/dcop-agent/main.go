// Command dcop-agent runs one monitored-area agent process. The
// topology is rebuilt deterministically from the shared configuration
// (same seed on every host) and the agent picks its own area by id.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/muglyon/dcop"
	redisbroker "github.com/muglyon/dcop/broker/redis"
	"github.com/muglyon/dcop/internal/config"
	"github.com/muglyon/dcop/internal/topology"
	"github.com/muglyon/dcop/observer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to dcop.toml")
		agentID    = flag.Int("id", 0, "agent id (required)")
		seed       = flag.Int64("seed", 1, "topology seed, must match the fleet")
	)
	flag.Parse()

	if *agentID <= 0 {
		fmt.Fprintln(os.Stderr, "dcop-agent: -id is required")
		os.Exit(2)
	}

	cfg := config.Load(*configPath)
	logger := openLogger(cfg)

	areas := topology.Build(topology.Options{
		NbRooms:       cfg.Topology.NbRooms,
		NbZones:       cfg.Topology.NbZones,
		Multivariable: cfg.Topology.Multivariable,
		Seed:          *seed,
	})
	var area *dcop.Area
	for _, a := range areas {
		if a.ID == dcop.AgentID(*agentID) {
			area = a
		}
	}
	if area == nil {
		fmt.Fprintf(os.Stderr, "dcop-agent: id %d not in topology\n", *agentID)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := redisbroker.New(cfg.Broker.Addr, cfg.Broker.Password, cfg.Broker.DB)
	defer broker.Close()
	if err := broker.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dcop-agent: broker: %v\n", err)
		os.Exit(1)
	}

	opts := []dcop.AgentOption{
		dcop.WithParams(cfg.Params()),
		dcop.WithLogger(logger),
	}

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dcop-agent: observer: %v\n", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		opts = append(opts, dcop.WithMetrics(observer.NewEngineMetrics(inst)))
	}

	critical := make(chan dcop.AgentID, 1)
	opts = append(opts, dcop.WithUrgentSource(critical))

	agent := dcop.NewAgent(area, broker, opts...)
	events := dcop.NewEventGenerator(area,
		dcop.WithCriticalSink(critical),
		dcop.WithEventLogger(logger),
	)
	go events.Run(ctx)

	if err := agent.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dcop-agent: %v\n", err)
		os.Exit(1)
	}
}

func openLogger(cfg config.Config) *slog.Logger {
	w := os.Stderr
	if cfg.Log.Path != "" {
		f, err := os.OpenFile(cfg.Log.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			w = f
		}
	}
	level := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		level = slog.LevelDebug
	}
	return dcop.NewLogger(w, level)
}
