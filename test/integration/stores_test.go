// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roomrelay/roomrelay/internal/store"
)

func openBadger(dir string) *store.BadgerMessageStore {
	st, err := store.OpenBadgerMessageStore(dir)
	Expect(err).NotTo(HaveOccurred())
	return st
}

var _ = Describe("Relay with a PostgreSQL store", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeAll(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Minute)

		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
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
	})

	AfterAll(func() {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
		cancel()
	})

	It("relays between transports and replays history from the database", func() {
		st, err := store.ConnectPostgres(ctx, connStr, 3)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(st.Close)

		r := startRelay(st)
		chatAcrossTransports(r)
		r.stop()

		count, err := st.CountMessages(ctx, "lobby")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeEquivalentTo(2))

		// A fresh process over the same database.
		r = startRelay(st)
		DeferCleanup(r.stop)

		carol := r.dialWS()
		sendFrame(carol, map[string]string{"type": "join", "room": "lobby", "displayName": "carol"})
		Expect(historyOf(nextFrame(carol, "history"))).To(Equal([]wireMessage{
			{Username: "alice", Text: "hello from the browser"},
			{Username: "bob", Text: "hello from the terminal"},
		}))
	})

	It("keeps rooms apart", func() {
		st, err := store.ConnectPostgres(ctx, connStr, 3)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(st.Close)

		r := startRelay(st)
		DeferCleanup(r.stop)

		dave := r.dialWS()
		sendFrame(dave, map[string]string{"type": "join", "room": "garden", "displayName": "dave"})
		Expect(historyOf(nextFrame(dave, "history"))).To(BeEmpty())
	})
})
