// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/store"
	"github.com/roomrelay/roomrelay/internal/xdg"
)

// memoryStore gives the in-memory store the Close the process expects.
type memoryStore struct {
	*core.MemoryMessageStore
}

func (memoryStore) Close() error { return nil }

// postgresStore adapts PostgresMessageStore's Close to return an error.
type postgresStore struct {
	*store.PostgresMessageStore
}

func (s postgresStore) Close() error {
	s.PostgresMessageStore.Close()
	return nil
}

// openStore opens the message store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig, newMigrator func(string) (Migrator, error)) (MessageStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory message store, history will not survive a restart")
		return memoryStore{core.NewMemoryMessageStore()}, nil

	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL, newMigrator); err != nil {
				return nil, err
			}
		}
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.ConnectRetries)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database")
		return postgresStore{pg}, nil

	case config.DriverBadger:
		if err := xdg.EnsureDir(cfg.BadgerDir); err != nil {
			return nil, oops.Code("STORE_OPEN_FAILED").With("dir", cfg.BadgerDir).Wrap(err)
		}
		bs, err := store.OpenBadgerMessageStore(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		slog.Info("opened embedded message store", "dir", cfg.BadgerDir)
		return bs, nil

	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// migrateUp applies pending migrations and logs the resulting version.
func migrateUp(databaseURL string, newMigrator func(string) (Migrator, error)) (err error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := m.Up(); err != nil {
		return err
	}
	status, err := m.Status()
	if err != nil {
		return err
	}
	slog.Info("database schema up to date", "version", status.Version)
	return nil
}
