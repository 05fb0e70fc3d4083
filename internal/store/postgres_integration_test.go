// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/store"
)

var _ = Describe("PostgresMessageStore", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		msgStore  *store.PostgresMessageStore
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("roomrelay_test"),
			postgres.WithUsername("roomrelay"),
			postgres.WithPassword("roomrelay"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		msgStore, err = store.ConnectPostgres(ctx, connStr, 3)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if msgStore != nil {
			msgStore.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	newMessage := func(room, text string) core.Message {
		return core.Message{
			ID:        core.NewULID(),
			Room:      room,
			Author:    "alice",
			Text:      text,
			Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	Describe("Append and ReadHistory", func() {
		It("returns the newest messages oldest first", func() {
			room := "history-" + core.NewULID().String()
			var sent []core.Message
			for i := range 5 {
				msg := newMessage(room, fmt.Sprintf("msg %d", i))
				Expect(msgStore.Append(ctx, msg)).To(Succeed())
				sent = append(sent, msg)
			}

			got, err := msgStore.ReadHistory(ctx, room, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(sent[2:]))

			n, err := msgStore.CountMessages(ctx, room)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(5)))
		})

		It("keeps rooms apart", func() {
			lobby := "lobby-" + core.NewULID().String()
			kitchen := "kitchen-" + core.NewULID().String()
			Expect(msgStore.Append(ctx, newMessage(lobby, "a"))).To(Succeed())
			Expect(msgStore.Append(ctx, newMessage(kitchen, "b"))).To(Succeed())

			got, err := msgStore.ReadHistory(ctx, kitchen, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Text).To(Equal("b"))
		})

		It("rejects a duplicate id", func() {
			msg := newMessage("dup-"+core.NewULID().String(), "once")
			Expect(msgStore.Append(ctx, msg)).To(Succeed())
			Expect(msgStore.Append(ctx, msg)).To(MatchError(store.ErrDuplicateMessage))
		})
	})

	Describe("Migrator", func() {
		It("reports no pending migrations after Up", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			status, err := migrator.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Dirty).To(BeFalse())
			Expect(status.Pending).To(BeEmpty())
			Expect(status.Version).To(BeNumerically(">", 0))
		})
	})
})
