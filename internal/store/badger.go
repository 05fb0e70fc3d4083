// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/roomrelay/roomrelay/internal/core"
)

// BadgerMessageStore implements core.MessageStore on an embedded Badger
// database, for single-node deployments without PostgreSQL.
//
// Keys are "msg:<len(room)>:<room>:<ulid>". The length prefix keeps one
// room's prefix from matching another room's keys, and ULIDs sort by
// creation time, so a reverse prefix scan yields the newest messages first.
type BadgerMessageStore struct {
	db *badger.DB
}

var _ core.MessageStore = (*BadgerMessageStore)(nil)

// diskMessage is the stored value of one message.
type diskMessage struct {
	Room   string `json:"room"`
	Author string `json:"author"`
	Text   string `json:"text"`
	At     int64  `json:"at"` // unix nanoseconds
}

// OpenBadgerMessageStore opens or creates a Badger database in dir.
func OpenBadgerMessageStore(dir string) (*BadgerMessageStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, oops.Code("BADGER_OPEN_FAILED").With("dir", dir).Wrap(err)
	}
	return &BadgerMessageStore{db: db}, nil
}

// NewBadgerMessageStore wraps an already open database.
func NewBadgerMessageStore(db *badger.DB) *BadgerMessageStore {
	return &BadgerMessageStore{db: db}
}

func roomPrefix(room string) []byte {
	return fmt.Appendf(nil, "msg:%d:%s:", len(room), room)
}

func messageKey(room string, id ulid.ULID) []byte {
	return append(roomPrefix(room), id.String()...)
}

// Append stores one message. Re-appending an existing ID is rejected.
func (s *BadgerMessageStore) Append(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(diskMessage{
		Room:   msg.Room,
		Author: msg.Author,
		Text:   msg.Text,
		At:     msg.Timestamp.UnixNano(),
	})
	if err != nil {
		return oops.With("operation", "encode message").Wrap(err)
	}

	key := messageKey(msg.Room, msg.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return oops.With("message_id", msg.ID.String()).Wrap(ErrDuplicateMessage)
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return oops.With("operation", "append message").With("room", msg.Room).Wrap(err)
	}
	return nil
}

// ReadHistory returns the newest limit messages of room, oldest first.
func (s *BadgerMessageStore) ReadHistory(ctx context.Context, room string, limit int) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	prefix := roomPrefix(room)
	var newestFirst []core.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xFF sorts after every ULID character.
		for it.Seek(append(slices.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if len(newestFirst) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := ulid.ParseStrict(string(item.Key()[len(prefix):]))
			if err != nil {
				return oops.With("key", string(item.Key())).Wrap(err)
			}
			var dm diskMessage
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &dm) }); err != nil {
				return oops.With("message_id", id.String()).Wrap(err)
			}
			newestFirst = append(newestFirst, core.Message{
				ID:        id,
				Room:      dm.Room,
				Author:    dm.Author,
				Text:      dm.Text,
				Timestamp: time.Unix(0, dm.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, oops.With("operation", "read history").With("room", room).Wrap(err)
	}

	msgs := make([]core.Message, len(newestFirst))
	for i, m := range newestFirst {
		msgs[len(newestFirst)-1-i] = m
	}
	return msgs, nil
}

// Close closes the database.
func (s *BadgerMessageStore) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.With("operation", "close badger").Wrap(err)
	}
	return nil
}
