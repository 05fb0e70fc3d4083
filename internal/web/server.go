// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
)

// Server listens for WebSocket clients on one path.
type Server struct {
	addr       string
	path       string
	handler    *Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a server that mounts handler at path.
func NewServer(addr, path string, handler *Handler) *Server {
	if path == "" {
		path = "/ws"
	}
	return &Server{addr: addr, path: path, handler: handler}
}

// Start begins accepting connections. The returned channel reports a serve
// failure and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("websocket server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle(s.path, s.handler)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("websocket server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("websocket server started", "addr", listener.Addr().String(), "path", s.path)
	return errCh, nil
}

// Stop stops accepting connections, then closes the open ones.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	// Shutdown does not see hijacked connections.
	err := s.httpServer.Shutdown(ctx)
	s.handler.Close()
	if err != nil {
		return oops.With("operation", "shutdown_websocket_server").Wrap(err)
	}

	slog.Info("websocket server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
