// Command dcop-server runs the round coordinator: it triggers rounds,
// elects pseudo-tree roots, collects the fleet's schedules, and
// persists them.
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
	"github.com/muglyon/dcop/store/postgres"
	"github.com/muglyon/dcop/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to dcop.toml")
		seed       = flag.Int64("seed", 1, "topology seed, must match the fleet")
	)
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := openLogger(cfg)

	areas := topology.Build(topology.Options{
		NbRooms:       cfg.Topology.NbRooms,
		NbZones:       cfg.Topology.NbZones,
		Multivariable: cfg.Topology.Multivariable,
		Seed:          *seed,
	})
	ids := make([]dcop.AgentID, len(areas))
	for i, a := range areas {
		ids[i] = a.ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := redisbroker.New(cfg.Broker.Addr, cfg.Broker.Password, cfg.Broker.DB)
	defer broker.Close()
	if err := broker.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dcop-server: broker: %v\n", err)
		os.Exit(1)
	}

	opts := []dcop.CoordinatorOption{
		dcop.WithCoordinatorParams(cfg.Params()),
		dcop.WithCoordinatorLogger(logger),
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dcop-server: store: %v\n", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "dcop-server: store init: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, dcop.WithStore(store))
	}

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dcop-server: observer: %v\n", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		opts = append(opts, dcop.WithCoordinatorMetrics(observer.NewEngineMetrics(inst)))
	}

	coordinator := dcop.NewCoordinator(broker, ids, opts...)
	if err := coordinator.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dcop-server: %v\n", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (dcop.RoundStore, error) {
	switch cfg.Store.Kind {
	case "", "none":
		return nil, nil
	case "sqlite":
		return sqlite.New(cfg.Store.Path, sqlite.WithLogger(logger)), nil
	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
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
