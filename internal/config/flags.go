// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package config

import (
	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"
)

// flagKeys maps flag names onto config keys. Flags not listed are ignored
// by the loader.
var flagKeys = map[string]string{
	"log-format":     "log.format",
	"log-level":      "log.level",
	"ws-addr":        "server.ws_addr",
	"ws-path":        "server.ws_path",
	"telnet-addr":    "server.telnet_addr",
	"metrics-addr":   "server.metrics_addr",
	"storage-driver": "storage.driver",
	"badger-dir":     "storage.badger_dir",
	"auto-migrate":   "storage.auto_migrate",
	"history-limit":  "chat.history_limit",
	"system-notices": "chat.system_notices",
}

// RegisterServeFlags adds the serve command's flags to fs, defaulted from
// Default.
func RegisterServeFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("ws-addr", d.Server.WSAddr, "WebSocket listen address")
	fs.String("ws-path", d.Server.WSPath, "WebSocket endpoint path")
	fs.String("telnet-addr", d.Server.TelnetAddr, "telnet listen address (empty = disabled)")
	fs.String("metrics-addr", d.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("storage-driver", d.Storage.Driver, "message store (memory, postgres, badger)")
	fs.String("badger-dir", d.Storage.BadgerDir, "badger data directory (default: XDG_DATA_HOME/roomrelay/messages)")
	fs.Bool("auto-migrate", d.Storage.AutoMigrate, "apply pending migrations on startup (postgres)")
	fs.Int("history-limit", d.Chat.HistoryLimit, "messages replayed to a joining connection")
	fs.Bool("system-notices", d.Chat.SystemNotices, "announce joins and leaves in the room")
}

// RegisterLogFlags adds only the logging flags, for commands that do not serve.
func RegisterLogFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// flagValues returns the posflag callback for fs.
func flagValues(fs *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}
