// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// connectBackoffBase is the first wait between connection attempts.
const connectBackoffBase = 250 * time.Millisecond

// ConnectPostgres opens a pool for dsn and waits until the database answers,
// retrying up to retries times with exponential backoff.
func ConnectPostgres(ctx context.Context, dsn string, retries uint64) (*PostgresMessageStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForDatabase(ctx, pool, retries); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresMessageStore(pool), nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func waitForDatabase(ctx context.Context, db pinger, retries uint64) error {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(connectBackoffBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			slog.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
