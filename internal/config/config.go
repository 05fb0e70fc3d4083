// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package config loads the server configuration from compiled defaults, an
// optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/xdg"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config is the complete server configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Storage   StorageConfig   `koanf:"storage"`
	Chat      ChatConfig      `koanf:"chat"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// LogConfig controls the default slog logger.
type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
}

// ServerConfig holds listen addresses. An empty telnet or metrics address
// disables that listener.
type ServerConfig struct {
	WSAddr      string `koanf:"ws_addr" validate:"required,listen_addr"`
	WSPath      string `koanf:"ws_path" validate:"required,startswith=/"`
	TelnetAddr  string `koanf:"telnet_addr" validate:"omitempty,listen_addr"`
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,listen_addr"`
}

// WebSocketConfig tunes WebSocket connections.
type WebSocketConfig struct {
	ReadLimit    int64         `koanf:"read_limit" validate:"gte=128"`
	PingPeriod   time.Duration `koanf:"ping_period" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	SendBuffer   int           `koanf:"send_buffer" validate:"gte=1"`
	// AllowedOrigins restricts the Origin header of upgrade requests. Empty
	// allows every origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// StorageConfig selects and configures the message store.
type StorageConfig struct {
	Driver         string        `koanf:"driver" validate:"oneof=memory postgres badger"`
	DatabaseURL    string        `koanf:"database_url" validate:"required_if=Driver postgres"`
	BadgerDir      string        `koanf:"badger_dir" validate:"required_if=Driver badger"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	ConnectRetries uint64        `koanf:"connect_retries" validate:"lte=30"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
}

// ChatConfig holds room behavior settings.
type ChatConfig struct {
	HistoryLimit      int  `koanf:"history_limit" validate:"gte=1,lte=10000"`
	MaxMessageLength  int  `koanf:"max_message_length" validate:"gte=0"`
	SystemNotices     bool `koanf:"system_notices"`
	ReclaimEmptyRooms bool `koanf:"reclaim_empty_rooms"`
}

// RateLimitConfig configures the per-connection send limiter.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	Burst   int     `koanf:"burst" validate:"gte=1"`
	Rate    float64 `koanf:"rate" validate:"gt=0"`
}

const defaultMaxMessageLength = 2000

// frameOverhead covers the JSON envelope around a message's text: type,
// room and display name fields.
const frameOverhead = 1024

// MinReadLimit is the smallest websocket.read_limit that admits a message of
// maxMessageLength runes. A rune takes up to four bytes in UTF-8.
func MinReadLimit(maxMessageLength int) int64 {
	if maxMessageLength <= 0 {
		return 0
	}
	return int64(maxMessageLength)*4 + frameOverhead
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Server: ServerConfig{
			WSAddr:      ":8080",
			WSPath:      "/ws",
			TelnetAddr:  "",
			MetricsAddr: "127.0.0.1:9100",
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    16384,
			PingPeriod:   54 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   64,
		},
		Storage: StorageConfig{
			Driver:         DriverMemory,
			Timeout:        core.DefaultStoreTimeout,
			ConnectRetries: 5,
		},
		Chat: ChatConfig{
			HistoryLimit:      core.DefaultHistoryLimit,
			MaxMessageLength:  defaultMaxMessageLength,
			SystemNotices:     false,
			ReclaimEmptyRooms: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Burst:   core.DefaultBurstCapacity,
			Rate:    core.DefaultSustainedRate,
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty the XDG
// config file is used if it exists. flags may be nil. DATABASE_URL fills in
// storage.database_url when neither the file nor the flags set it.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValues(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.Storage.Driver == DriverBadger && cfg.Storage.BadgerDir == "" {
		dir, err := xdg.MessagesDir()
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", "storage.badger_dir").Wrap(err)
		}
		cfg.Storage.BadgerDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
