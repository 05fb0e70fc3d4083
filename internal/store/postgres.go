// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package store provides durable MessageStore implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/roomrelay/roomrelay/internal/core"
)

// ErrDuplicateMessage is returned when a message ID is appended twice.
// Store errors carry no oops code of their own; the history gateway
// classifies every store failure as PERSISTENCE_FAILED.
var ErrDuplicateMessage = errors.New("message already stored")

// poolIface is the subset of pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresMessageStore implements core.MessageStore using PostgreSQL.
type PostgresMessageStore struct {
	pool poolIface
}

var _ core.MessageStore = (*PostgresMessageStore)(nil)

// NewPostgresMessageStore wraps an open pool.
func NewPostgresMessageStore(pool poolIface) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

// Append inserts one message.
func (s *PostgresMessageStore) Append(ctx context.Context, msg core.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, room, author, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID.String(),
		msg.Room,
		msg.Author,
		msg.Text,
		msg.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.With("message_id", msg.ID.String()).
				With("constraint", pgErr.ConstraintName).
				Wrap(ErrDuplicateMessage)
		}
		return oops.With("operation", "append message").
			With("message_id", msg.ID.String()).
			With("room", msg.Room).
			Wrap(err)
	}
	return nil
}

// ReadHistory returns the newest limit messages of room, oldest first.
func (s *PostgresMessageStore) ReadHistory(ctx context.Context, room string, limit int) ([]core.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room, author, body, created_at FROM (
			SELECT id, room, author, body, created_at
			FROM messages WHERE room = $1
			ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`,
		room, limit)
	if err != nil {
		return nil, oops.With("operation", "query history").With("room", room).Wrap(err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var (
			idStr     string
			msg       core.Message
			createdAt time.Time
		)
		if err := rows.Scan(&idStr, &msg.Room, &msg.Author, &msg.Text, &createdAt); err != nil {
			return nil, oops.With("operation", "scan message row").Wrap(err)
		}
		msg.ID, err = core.ParseULID(idStr)
		if err != nil {
			return nil, oops.With("operation", "parse message id").
				With("room", room).
				With("id", idStr).
				Wrap(err)
		}
		msg.Timestamp = createdAt.UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate history").With("room", room).Wrap(err)
	}
	return msgs, nil
}

// CountMessages returns how many messages room holds.
func (s *PostgresMessageStore) CountMessages(ctx context.Context, room string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE room = $1`, room).Scan(&n); err != nil {
		return 0, oops.With("operation", "count messages").With("room", room).Wrap(err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *PostgresMessageStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.With("operation", "ping").Wrap(err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresMessageStore) Close() {
	s.pool.Close()
}
