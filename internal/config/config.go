// Package config loads the relay configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr         string `envconfig:"ADDR" default:":6000"`
	DefaultSpace string `envconfig:"DEFAULT_SPACE_ID" default:"lobby"`

	// Eviction reclaims occupants whose connections vanished without a
	// clean disconnect.
	EvictionInterval    time.Duration `envconfig:"EVICTION_INTERVAL" default:"5m"`
	InactivityThreshold time.Duration `envconfig:"INACTIVITY_THRESHOLD" default:"60s"`

	// Entry coordinate a user reappears at when returning from a house
	// room to a space.  House and space coordinate systems are
	// independent.
	RejoinX float64 `envconfig:"REJOIN_X" default:"0"`
	RejoinY float64 `envconfig:"REJOIN_Y" default:"0"`

	// When empty, presence events are not exported.
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

/*
Load reads a .env file if one exists and fills the config from the
environment.
*/
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SlogLevel maps the configured level name onto a slog level, defaulting to
// info for anything unrecognized.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
