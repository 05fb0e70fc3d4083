// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the RoomRelay CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roomrelay",
		Short: "RoomRelay - multi-room chat relay",
		Long: `RoomRelay relays chat between clients joined to named rooms, with
durable per-room history, live presence and WebSocket and telnet transports.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/roomrelay/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
