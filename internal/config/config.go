// Package config loads configuration from a YAML file overridden by
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ORDERLEDGER_"

// Duration wraps time.Duration for YAML and env unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LedgerConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	// Addr enables the redis-backed intake guard; empty keeps the
	// in-process guard.
	Addr string `koanf:"addr"`
}

type OrderConfig struct {
	// ProcessingTimeout is the silence window after which a processing
	// order is assumed fulfilled and auto-approved. A business policy, not
	// a technical constant; keep it visible in config.
	ProcessingTimeout Duration `koanf:"processing_timeout"`
	DefaultRate       string   `koanf:"default_rate"`
	DefaultDueLimit   string   `koanf:"default_due_limit"`
}

type SweepConfig struct {
	// Interval must stay short relative to the processing timeout so the
	// observable transition latency stays bounded.
	Interval Duration `koanf:"interval"`
}

type DayCheckConfig struct {
	Interval Duration `koanf:"interval"`
}

type EventsConfig struct {
	History int `koanf:"history"`
	Buffer  int `koanf:"buffer"`
}

type RecoveryConfig struct {
	PendingTTL    Duration `koanf:"pending_ttl"`
	EnrichTimeout Duration `koanf:"enrich_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Redis    RedisConfig    `koanf:"redis"`
	Order    OrderConfig    `koanf:"order"`
	Sweep    SweepConfig    `koanf:"sweep"`
	DayCheck DayCheckConfig `koanf:"day_check"`
	Events   EventsConfig   `koanf:"events"`
	Recovery RecoveryConfig `koanf:"recovery"`
	Log      LogConfig      `koanf:"log"`
}

// Load reads the YAML file at path (optional), then applies
// ORDERLEDGER_-prefixed environment variables on top.
//
//	ORDERLEDGER_SERVER_ADDR        -> server.addr
//	ORDERLEDGER_ORDER_PROCESSING_TIMEOUT -> order.processing_timeout
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// Split on the first underscore only: section, then field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8090"
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "data/ledger.json"
	}
	if cfg.Order.ProcessingTimeout == 0 {
		cfg.Order.ProcessingTimeout = Duration(2 * time.Minute)
	}
	if cfg.Order.DefaultRate == "" {
		cfg.Order.DefaultRate = "0"
	}
	if cfg.Order.DefaultDueLimit == "" {
		cfg.Order.DefaultDueLimit = "0"
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = Duration(10 * time.Second)
	}
	if cfg.DayCheck.Interval == 0 {
		cfg.DayCheck.Interval = Duration(30 * time.Second)
	}
	if cfg.Events.History == 0 {
		cfg.Events.History = 1024
	}
	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = 64
	}
	if cfg.Recovery.PendingTTL == 0 {
		cfg.Recovery.PendingTTL = Duration(5 * time.Minute)
	}
	if cfg.Recovery.EnrichTimeout == 0 {
		cfg.Recovery.EnrichTimeout = Duration(3 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
