// Package server provides configuration loading with environment overrides
// and validated defaults.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the server settings. Values come from CHAT_-prefixed
// environment variables over the defaults below.
type Config struct {
	Host string `default:"localhost"`
	Port int    `default:"1337" validate:"gte=0,lte=65535"`

	// Backlog mirrors the reference listen backlog. Go's net.Listen does not
	// expose the listen(2) backlog argument, so the value is advisory and
	// logged at startup.
	Backlog int `default:"5" validate:"gte=1"`

	// BufferSize bounds a single read; longer messages truncate, a known
	// protocol limitation.
	BufferSize int `split_words:"true" default:"1024" validate:"gte=1"`

	AcceptPoll      time.Duration `split_words:"true" default:"1s" validate:"gt=0"`
	ShutdownTimeout time.Duration `split_words:"true" default:"5s" validate:"gt=0"`

	// GatewayAddr enables the WebSocket gateway when non-empty, e.g. ":8080".
	GatewayAddr string `split_words:"true"`

	AllowedOrigins []string `split_words:"true" default:"http://localhost:8080"`
	LogLevel       string   `split_words:"true" default:"info" validate:"oneof=debug info warn error"`
}

// LoadConfig reads CHAT_* environment variables over the defaults and
// validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("chat", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Addr returns the host:port the listener binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel maps the configured level name onto slog.
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
