// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/observability"
	"github.com/roomrelay/roomrelay/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the configured message store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg config.StorageConfig) (MessageStore, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// MessageStore is a core.MessageStore the process owns and must close.
type MessageStore interface {
	core.MessageStore
	Close() error
}

// pingableStore is implemented by stores that can report their health.
type pingableStore interface {
	Ping(ctx context.Context) error
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newStoreMigrator
	}
	if out.StoreOpener == nil {
		out.StoreOpener = func(ctx context.Context, cfg config.StorageConfig) (MessageStore, error) {
			return openStore(ctx, cfg, out.MigratorFactory)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	return &out
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newStoreMigrator
	}
	return &out
}

func newStoreMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}
