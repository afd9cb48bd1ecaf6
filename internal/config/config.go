package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is resolved in three layers: defaults, then an optional YAML
// file named by CONFIG_FILE, then environment variables.
type AppConfig struct {
	ListenAddr string
	OpsAddr    string

	RedisURL    string
	DatabaseURL string

	TimeControlMs  int64
	TickInterval   time.Duration
	RoomTTL        time.Duration
	OutboundBuffer int
}

type fileConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	OpsAddr        string `yaml:"ops_addr"`
	RedisURL       string `yaml:"redis_url"`
	DatabaseURL    string `yaml:"database_url"`
	TimeControlMs  int64  `yaml:"time_control_ms"`
	TickInterval   string `yaml:"tick_interval"`
	RoomTTL        string `yaml:"room_ttl"`
	OutboundBuffer int    `yaml:"outbound_buffer"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":3000",
		TimeControlMs:  600_000,
		TickInterval:   time.Second,
		RoomTTL:        time.Hour,
		OutboundBuffer: 64,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("OPS_ADDR")); v != "" {
		cfg.OpsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL_MS")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid TIME_CONTROL_MS: %q", v)
		}
		cfg.TimeControlMs = n
	}
	if v := strings.TrimSpace(os.Getenv("TICK_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TICK_INTERVAL: %q", v)
		}
		cfg.TickInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid ROOM_TTL: %q", v)
		}
		cfg.RoomTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("OUTBOUND_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OutboundBuffer = n
		}
	}

	return cfg, nil
}

func applyFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if v := strings.TrimSpace(fc.ListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(fc.OpsAddr); v != "" {
		cfg.OpsAddr = v
	}
	if v := strings.TrimSpace(fc.RedisURL); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(fc.DatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if fc.TimeControlMs > 0 {
		cfg.TimeControlMs = fc.TimeControlMs
	}
	if v := strings.TrimSpace(fc.TickInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid tick_interval: %q", v)
		}
		cfg.TickInterval = d
	}
	if v := strings.TrimSpace(fc.RoomTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid room_ttl: %q", v)
		}
		cfg.RoomTTL = d
	}
	if fc.OutboundBuffer > 0 {
		cfg.OutboundBuffer = fc.OutboundBuffer
	}
	return nil
}
