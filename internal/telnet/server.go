// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package telnet provides the line-oriented telnet transport.
package telnet

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/observability"
)

const transportName = "telnet"

// Controller is the part of core.SessionController the telnet transport drives.
type Controller interface {
	Connect(connID ulid.ULID, conn core.Conn)
	Join(ctx context.Context, connID ulid.ULID, room, displayName string) error
	Send(ctx context.Context, connID ulid.ULID, room, text, displayName string) error
	Leave(connID ulid.ULID) error
	Disconnect(connID ulid.ULID)
	Session(connID ulid.ULID) (core.SessionInfo, bool)
	Presence(room string) []string
	Rooms() []string
}

// Server is a telnet server.
type Server struct {
	addr     string
	ctrl     Controller
	listener net.Listener
	mu       sync.RWMutex
	handlers sync.WaitGroup
}

// NewServer creates a new telnet server.
func NewServer(addr string, ctrl Controller) *Server {
	return &Server{
		addr: addr,
		ctrl: ctrl,
	}
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled and every
// connection handler has returned.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("TELNET_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("telnet server started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			slog.Debug("error closing listener", "error", err)
		}
	}()

	defer s.handlers.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				slog.Info("telnet server stopped")
				return nil
			default:
				slog.Error("accept failed", "error", err)
				continue
			}
		}

		observability.RecordConnection(transportName)
		handler := NewConnectionHandler(conn, s.ctrl)
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			handler.Handle(ctx)
		}()
	}
}
