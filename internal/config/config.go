// Package config defines the bootstrap configuration for the follower.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via FOLLOW_* environment variables.
//
// Runtime-tunable follow parameters (multiplier, timeouts, tick offsets)
// are not here — they live in the engine's Settings document, persisted
// as JSON by the store and mutable through the command surface.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Source  GatewayConfig `mapstructure:"source"`
	Target  GatewayConfig `mapstructure:"target"`
	Store   StoreConfig   `mapstructure:"store"`
	Session SessionConfig `mapstructure:"session"`
	Bus     BusConfig     `mapstructure:"bus"`
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
}

// GatewayConfig identifies one gateway endpoint. Name must match the
// gateway_name carried on every event from that account; events are
// routed by exact string comparison.
type GatewayConfig struct {
	Name   string `mapstructure:"name"`
	RPCURL string `mapstructure:"rpc_url"`
	WSURL  string `mapstructure:"ws_url"`
}

// StoreConfig sets where settings, run data and history snapshots are
// persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// SessionConfig holds the trading-calendar thresholds. The window
// [DaylightEnd, NightBegin) is the end-of-session save window: a stop
// inside it snapshots run data into history and clears the signal map.
// Defaults follow the China futures calendar (15:02 / 20:45).
type SessionConfig struct {
	DaylightEnd string `mapstructure:"daylight_end"`
	NightBegin  string `mapstructure:"night_begin"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	TimerInterval time.Duration `mapstructure:"timer_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the HTTP command surface.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides (FOLLOW_*).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FOLLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.data_dir", "data")
	v.SetDefault("session.daylight_end", "15:02")
	v.SetDefault("session.night_begin", "20:45")
	v.SetDefault("bus.queue_size", 1024)
	v.SetDefault("bus.timer_interval", time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Source.Name == "" {
		return fmt.Errorf("source.name is required")
	}
	if c.Target.Name == "" {
		return fmt.Errorf("target.name is required")
	}
	if c.Source.Name == c.Target.Name {
		return fmt.Errorf("source and target gateways must differ")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if _, err := ParseClock(c.Session.DaylightEnd); err != nil {
		return fmt.Errorf("session.daylight_end: %w", err)
	}
	if _, err := ParseClock(c.Session.NightBegin); err != nil {
		return fmt.Errorf("session.night_begin: %w", err)
	}
	return nil
}

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return Clock(h*60 + m), nil
}

// At returns the Clock for a wall-clock time.
func At(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// InSaveWindow reports whether t falls inside [daylightEnd, nightBegin).
func (c *Config) InSaveWindow(t time.Time) bool {
	end, err1 := ParseClock(c.Session.DaylightEnd)
	begin, err2 := ParseClock(c.Session.NightBegin)
	if err1 != nil || err2 != nil {
		return false
	}
	now := At(t)
	return now >= end && now < begin
}
