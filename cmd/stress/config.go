package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config controls the stress run. Flag values override anything loaded
// from the YAML file.
type Config struct {
	Producers         int           `yaml:"producers"`
	OpsPerProducer    int           `yaml:"ops_per_producer"`
	RemoveEvery       int           `yaml:"remove_every"`
	CommitInterval    time.Duration `yaml:"commit_interval"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	EventRingSize     uint64        `yaml:"event_ring_size"`
	Verbose           bool          `yaml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Producers:         8,
		OpsPerProducer:    10_000,
		RemoveEvery:       4,
		CommitInterval:    5 * time.Millisecond,
		BroadcastInterval: 5 * time.Millisecond,
		EventRingSize:     1 << 16,
	}
}

func loadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.IntVar(&cfg.Producers, "producers", cfg.Producers, "number of reserving goroutines")
	fs.IntVar(&cfg.OpsPerProducer, "ops", cfg.OpsPerProducer, "reservations per producer")
	fs.IntVar(&cfg.RemoveEvery, "remove-every", cfg.RemoveEvery, "submit a remove after every Nth insert (0 disables)")
	fs.DurationVar(&cfg.CommitInterval, "commit-interval", cfg.CommitInterval, "committer tick interval")
	fs.DurationVar(&cfg.BroadcastInterval, "broadcast-interval", cfg.BroadcastInterval, "broadcaster drain interval")
	fs.Uint64Var(&cfg.EventRingSize, "event-ring", cfg.EventRingSize, "applied-event ring capacity (power of two)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "debug logging")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		fileCfg, err := applyFileConfig(cfg, *configPath)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
		// Reparse so explicit flags win over the file.
		if err := fs.Parse(args); err != nil {
			return cfg, err
		}
	}

	if cfg.Producers < 1 || cfg.OpsPerProducer < 1 {
		return cfg, fmt.Errorf("producers and ops must be positive, got %d and %d",
			cfg.Producers, cfg.OpsPerProducer)
	}
	if cfg.EventRingSize == 0 || cfg.EventRingSize&(cfg.EventRingSize-1) != 0 {
		return cfg, fmt.Errorf("event ring size must be a power of two, got %d", cfg.EventRingSize)
	}
	return cfg, nil
}

func applyFileConfig(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
