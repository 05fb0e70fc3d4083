// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/logging"
	"github.com/roomrelay/roomrelay/internal/store"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *MigrateDeps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the message history schema",
		Long: `Manage the PostgreSQL schema that stores room history.

Without a subcommand, applies all pending migrations. The database URL is
read from storage.database_url or the DATABASE_URL environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all stored history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				cmd.Print(formatMigrationStatus(status))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Long: `Mark a version as applied without running it. Use this to recover
a database left dirty by a failed migration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	config.RegisterLogFlags(cmd.PersistentFlags())
	return cmd
}

func runMigrateUp(cmd *cobra.Command, deps *MigrateDeps) error {
	return withMigrator(cmd, deps, func(m Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		status, err := m.Status()
		if err != nil {
			return err
		}
		cmd.Printf("Migrations completed successfully (version %d)\n", status.Version)
		return nil
	})
}

// withMigrator opens a migrator for the configured database, runs fn and
// closes it. A close error is returned only when fn succeeded.
func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(Migrator) error) (err error) {
	cfg, err := loadMigrateConfig(cmd.Flags())
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Storage.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(m)
}

// loadMigrateConfig loads the configuration, installs the logger and checks
// that a database URL is set, from the file or DATABASE_URL.
func loadMigrateConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logging.SetDefault("roomrelay-migrate", version, cfg.Log.Format, cfg.Log.Level); err != nil {
		return nil, err
	}
	if cfg.Storage.DatabaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("storage.database_url or DATABASE_URL is required")
	}
	return cfg, nil
}

func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

func formatMigrationStatus(status store.MigrationStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d\n", status.Version)
	if status.Dirty {
		b.WriteString("WARNING: database is dirty; fix the schema and run 'migrate force <version>'\n")
	}
	if len(status.Pending) == 0 {
		b.WriteString("No pending migrations\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Pending migrations: %d\n", len(status.Pending))
	for _, v := range status.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}
