// Command dcop-sim runs a whole hospital in one process over the
// in-memory broker: every agent, its event generator, and the
// coordinator. Useful for demos and for eyeballing schedules without
// a Redis instance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/muglyon/dcop"
	"github.com/muglyon/dcop/broker/memory"
	"github.com/muglyon/dcop/internal/topology"
	"github.com/muglyon/dcop/store/sqlite"
)

func main() {
	var (
		nbRooms = flag.Int("rooms", 10, "number of rooms")
		nbZones = flag.Int("zones", 0, "number of zones (0 = room-only)")
		multi   = flag.Int("multi", 0, "1 = multivariable zones")
		rounds  = flag.Int("rounds", 3, "rounds to run")
		seed    = flag.Int64("seed", 1, "topology seed")
		dbPath  = flag.String("db", "", "optional sqlite results file")
	)
	flag.Parse()

	params := dcop.DefaultParams()
	// The simulation has no network latency; tight deadlines keep it
	// snappy without changing outcomes.
	params.Timeout = 5 * time.Second
	params.Round = 10 * time.Second

	logger := dcop.NewLogger(os.Stdout, slog.LevelInfo)
	broker := memory.New()
	defer broker.Close()

	areas := topology.Build(topology.Options{
		NbRooms:       *nbRooms,
		NbZones:       *nbZones,
		Multivariable: *multi == 1,
		Seed:          *seed,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := make([]dcop.AgentID, len(areas))
	for i, area := range areas {
		ids[i] = area.ID
		critical := make(chan dcop.AgentID, 1)
		agent := dcop.NewAgent(area, broker,
			dcop.WithParams(params),
			dcop.WithLogger(logger),
			dcop.WithUrgentSource(critical),
		)
		events := dcop.NewEventGenerator(area,
			dcop.WithCriticalSink(critical),
			dcop.WithEventLogger(logger),
			dcop.WithEventSeed(*seed+int64(area.ID)),
			dcop.WithEventInterval(time.Second),
		)
		go agent.Run(ctx)
		go events.Run(ctx)
	}

	opts := []dcop.CoordinatorOption{
		dcop.WithCoordinatorParams(params),
		dcop.WithCoordinatorLogger(logger),
	}
	if *dbPath != "" {
		store := sqlite.New(*dbPath)
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "dcop-sim: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, dcop.WithStore(store))
	}
	coordinator := dcop.NewCoordinator(broker, ids, opts...)

	// Let the coordinator loop for the requested number of periods,
	// then shut the whole simulation down.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coordinator.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "dcop-sim: %v\n", err)
		}
	}()

	time.Sleep(time.Duration(*rounds) * params.Round)
	cancel()
	<-done
}
