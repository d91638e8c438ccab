package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Mux       MuxConfig
	Shell     ShellConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds control API server configuration. The API is a local
// control surface, so the default binds loopback only.
type ServerConfig struct {
	Addr string `envconfig:"SHMUX_ADDR" default:"127.0.0.1:7070"`
}

// MuxConfig holds session multiplexer configuration.
type MuxConfig struct {
	MaxSessions      int `envconfig:"SHMUX_MAX_SESSIONS" default:"32"`
	SignalQueueDepth int `envconfig:"SHMUX_SIGNAL_QUEUE" default:"16"`
	ScrollbackBytes  int `envconfig:"SHMUX_SCROLLBACK_BYTES" default:"1048576"`
}

// ShellConfig holds per-session terminal defaults.
type ShellConfig struct {
	ConfigPath string `envconfig:"SHMUX_SHELL_CONFIG" default:""`
	Cols       int    `envconfig:"SHMUX_COLS" default:"80"`
	Rows       int    `envconfig:"SHMUX_ROWS" default:"24"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"SHMUX_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"SHMUX_LOG_DEV" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"SHMUX_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"SHMUX_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"SHMUX_RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:7070",
		},
		Mux: MuxConfig{
			MaxSessions:      32,
			SignalQueueDepth: 16,
			ScrollbackBytes:  1 << 20,
		},
		Shell: ShellConfig{
			Cols: 80,
			Rows: 24,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
