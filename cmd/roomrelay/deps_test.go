// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/observability"
	"github.com/roomrelay/roomrelay/internal/store"
)

// trackingStore is an in-memory MessageStore that records Close.
type trackingStore struct {
	*core.MemoryMessageStore
	closed atomic.Bool
}

func newTrackingStore() *trackingStore {
	return &trackingStore{MemoryMessageStore: core.NewMemoryMessageStore()}
}

func (s *trackingStore) Close() error {
	s.closed.Store(true)
	return nil
}

// pingStore adds a Ping that can be switched to failing.
type pingStore struct {
	*trackingStore
	failing atomic.Bool
}

func (s *pingStore) Ping(context.Context) error {
	if s.failing.Load() {
		return errors.New("connection refused")
	}
	return nil
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopFunc  func(ctx context.Context) error
	registry  *prometheus.Registry

	mu      sync.Mutex
	started bool
	stopped bool
}

func newMockObservabilityServer() *mockObservabilityServer {
	return &mockObservabilityServer{registry: prometheus.NewRegistry()}
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.startFunc != nil {
		return m.startFunc()
	}
	return make(chan error, 1), nil
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if m.stopFunc != nil {
		return m.stopFunc(ctx)
	}
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:9100" }

func (m *mockObservabilityServer) Registry() *prometheus.Registry { return m.registry }

func (m *mockObservabilityServer) wasStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// mockMigrator implements Migrator with testify/mock.
type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error {
	return m.Called().Error(0)
}

func (m *mockMigrator) Down() error {
	return m.Called().Error(0)
}

func (m *mockMigrator) Force(version int) error {
	return m.Called(version).Error(0)
}

func (m *mockMigrator) Status() (store.MigrationStatus, error) {
	args := m.Called()
	return args.Get(0).(store.MigrationStatus), args.Error(1)
}

func (m *mockMigrator) Close() error {
	return m.Called().Error(0)
}

// migratorFactory returns a MigratorFactory that always hands out m and
// records the URL it was asked for.
func migratorFactory(m Migrator, gotURL *string) func(string) (Migrator, error) {
	return func(databaseURL string) (Migrator, error) {
		if gotURL != nil {
			*gotURL = databaseURL
		}
		return m, nil
	}
}

// observabilityFactory returns a factory that hands out srv and passes the
// readiness checker on checkers.
func observabilityFactory(srv ObservabilityServer, checkers chan<- observability.ReadinessChecker) func(string, observability.ReadinessChecker) ObservabilityServer {
	return func(_ string, rc observability.ReadinessChecker) ObservabilityServer {
		if checkers != nil {
			checkers <- rc
		}
		return srv
	}
}

func newMockCmd() (*cobra.Command, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	return cmd, buf
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
