// Package config loads gateway process configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the gateway process reads from its
// environment. Zero values defer to the serving defaults.
type Config struct {
	// Address is the host:port the gateway listens on.
	Address string `env:"GATEWAY_ADDRESS" envDefault:":3003"`

	// DBPath is the SQLite file backing tokens and role membership.
	DBPath string `env:"GATEWAY_DB_PATH" envDefault:"gateway.db"`

	// HeartbeatInterval is advertised to clients in Hello.
	HeartbeatInterval time.Duration `env:"GATEWAY_HEARTBEAT_INTERVAL"`

	// HandshakeTimeout bounds the wait for Identify or Resume.
	HandshakeTimeout time.Duration `env:"GATEWAY_HANDSHAKE_TIMEOUT"`

	// ResumeWindow is how long a dropped session stays resumable.
	ResumeWindow time.Duration `env:"GATEWAY_RESUME_WINDOW"`

	// InboxCapacity bounds each session's delivery queue.
	InboxCapacity int `env:"GATEWAY_INBOX_CAPACITY"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"GATEWAY_SHUTDOWN_TIMEOUT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is text or json.
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
