// Package config loads the runtime configuration: defaults, then a
// TOML file, then DCOP_* env vars (env wins).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/muglyon/dcop"
)

type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Topology TopologyConfig `toml:"topology"`
	Broker   BrokerConfig   `toml:"broker"`
	Store    StoreConfig    `toml:"store"`
	Observer ObserverConfig `toml:"observer"`
	Log      LogConfig      `toml:"log"`
}

type EngineConfig struct {
	Domain         []int `toml:"domain"`
	UrgentTime     int   `toml:"urgt_time"`
	SyncWindow     int   `toml:"t_synchro"`
	ThreeHours     int   `toml:"three_hours"`
	TimeoutSeconds int   `toml:"timeout_seconds"`
	RoundSeconds   int   `toml:"round_seconds"`
	MaxTreeRank    int   `toml:"max_tree_rank"`
}

type TopologyConfig struct {
	NbRooms       int  `toml:"nb_rooms"`
	NbZones       int  `toml:"nb_zones"`
	Multivariable bool `toml:"multivariable"`
}

type BrokerConfig struct {
	Kind     string `toml:"kind"` // "memory" or "redis"
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type StoreConfig struct {
	Kind string `toml:"kind"` // "none", "sqlite" or "postgres"
	Path string `toml:"path"` // sqlite file
	DSN  string `toml:"dsn"`  // postgres
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type LogConfig struct {
	Path  string `toml:"path"` // empty means stderr
	Level string `toml:"level"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	p := dcop.DefaultParams()
	return Config{
		Engine: EngineConfig{
			Domain:         p.Domain,
			UrgentTime:     p.UrgentTime,
			SyncWindow:     p.SyncWindow,
			ThreeHours:     p.ThreeHours,
			TimeoutSeconds: int(p.Timeout.Seconds()),
			RoundSeconds:   int(p.Round.Seconds()),
			MaxTreeRank:    p.MaxTreeRank,
		},
		Topology: TopologyConfig{NbRooms: 10, NbZones: 0},
		Broker:   BrokerConfig{Kind: "redis", Addr: "localhost:6379"},
		Store:    StoreConfig{Kind: "sqlite", Path: "dcop.db"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "dcop.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("DCOP_BROKER_ADDR"); v != "" {
		cfg.Broker.Addr = v
	}
	if v := os.Getenv("DCOP_BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := os.Getenv("DCOP_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("DCOP_STORE_KIND"); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv("DCOP_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DCOP_NB_ROOMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Topology.NbRooms = n
		}
	}
	if v := os.Getenv("DCOP_NB_ZONES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Topology.NbZones = n
		}
	}
	if v := os.Getenv("DCOP_LOG_PATH"); v != "" {
		cfg.Log.Path = v
	}
	return cfg
}

// Params converts the engine section into dcop.Params.
func (c Config) Params() dcop.Params {
	p := dcop.DefaultParams()
	if len(c.Engine.Domain) > 0 {
		p.Domain = c.Engine.Domain
	}
	if c.Engine.UrgentTime > 0 {
		p.UrgentTime = c.Engine.UrgentTime
	}
	if c.Engine.SyncWindow > 0 {
		p.SyncWindow = c.Engine.SyncWindow
	}
	if c.Engine.ThreeHours > 0 {
		p.ThreeHours = c.Engine.ThreeHours
	}
	if c.Engine.TimeoutSeconds > 0 {
		p.Timeout = time.Duration(c.Engine.TimeoutSeconds) * time.Second
	}
	if c.Engine.RoundSeconds > 0 {
		p.Round = time.Duration(c.Engine.RoundSeconds) * time.Second
	}
	if c.Engine.MaxTreeRank > 0 {
		p.MaxTreeRank = c.Engine.MaxTreeRank
	}
	return p
}
