// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/logging"
	"github.com/roomrelay/roomrelay/internal/telnet"
	"github.com/roomrelay/roomrelay/internal/web"
	"github.com/roomrelay/roomrelay/pkg/errutil"
)

const (
	shutdownTimeout = 5 * time.Second
	readinessPing   = time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay",
		Long: `Start the WebSocket (and optionally telnet) chat relay together with
the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

// relay holds the running components of one serve invocation.
type relay struct {
	store      MessageStore
	limiter    *core.RateLimiter
	controller *core.SessionController
	ready      atomic.Bool
}

// runServeWithDeps starts the relay with injectable dependencies and blocks
// until ctx is cancelled, a signal arrives, or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := logging.SetDefault("roomrelay", version, cfg.Log.Format, cfg.Log.Level); err != nil {
		return err
	}

	slog.Info("starting roomrelay",
		"version", version,
		"ws_addr", cfg.Server.WSAddr,
		"storage", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := deps.StoreOpener(ctx, cfg.Storage)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Storage.Driver).Wrap(err)
	}
	r := &relay{store: st}
	defer func() {
		if closeErr := r.store.Close(); closeErr != nil {
			slog.Warn("error closing message store", "error", closeErr)
		}
	}()

	// Observability comes first so core collectors can register on it.
	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, r.isReady)
		core.RegisterMetrics(obsServer.Registry())
	}

	r.build(cfg, obsServer)
	if r.limiter != nil {
		defer r.limiter.Close()
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Server.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		defer stopServer("observability", obsServer.Stop)
	}

	wsServer := web.NewServer(cfg.Server.WSAddr, cfg.Server.WSPath, web.NewHandler(r.controller, web.Options{
		ReadLimit:    cfg.WebSocket.ReadLimit,
		PingPeriod:   cfg.WebSocket.PingPeriod,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
		CheckOrigin:  web.AllowOrigins(cfg.WebSocket.AllowedOrigins),
	}))
	wsErrChan, err := wsServer.Start()
	if err != nil {
		return oops.Code("WEBSOCKET_START_FAILED").With("addr", cfg.Server.WSAddr).Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, wsErrChan, "websocket")
	defer stopServer("websocket", wsServer.Stop)

	var telnetErr error
	telnetDone := make(chan struct{})
	if cfg.Server.TelnetAddr != "" {
		telnetServer := telnet.NewServer(cfg.Server.TelnetAddr, r.controller)
		go func() {
			defer close(telnetDone)
			if err := telnetServer.Run(ctx); err != nil {
				errutil.LogError(slog.Default(), "telnet server failed", err)
				telnetErr = err
				cancel()
			}
		}()
	} else {
		close(telnetDone)
	}

	r.ready.Store(true)
	cmd.Printf("RoomRelay listening on ws://%s%s\n", wsServer.Addr(), cfg.Server.WSPath)
	slog.Info("roomrelay ready", "ws_addr", wsServer.Addr())

	<-ctx.Done()
	r.ready.Store(false)
	slog.Info("shutting down...")

	// Telnet handlers watch ctx; wait for them before the store closes.
	<-telnetDone
	return telnetErr
}

// build wires the core components from cfg.
func (r *relay) build(cfg *config.Config, obs ObservabilityServer) {
	registry := core.NewRoomRegistry(core.WithRoomReclaim(cfg.Chat.ReclaimEmptyRooms))
	broadcaster := core.NewBroadcaster(registry)
	history := core.NewHistoryGateway(r.store,
		core.WithStoreTimeout(cfg.Storage.Timeout),
		core.WithHistoryCap(cfg.Chat.HistoryLimit),
	)

	opts := []core.ControllerOption{
		core.WithSystemNotices(cfg.Chat.SystemNotices),
		core.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
	}
	if cfg.RateLimit.Enabled {
		rlCfg := core.RateLimiterConfig{
			BurstCapacity: cfg.RateLimit.Burst,
			SustainedRate: cfg.RateLimit.Rate,
		}
		if obs != nil {
			r.limiter = core.NewRateLimiterWithRegistry(rlCfg, obs.Registry())
		} else {
			r.limiter = core.NewRateLimiter(rlCfg)
		}
		opts = append(opts, core.WithRateLimiter(r.limiter))
	}

	r.controller = core.NewSessionController(registry, broadcaster, history, opts...)
}

// isReady reports readiness once the listeners are up, and only while the
// store answers a ping.
func (r *relay) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	p, ok := r.store.(pingableStore)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), readinessPing)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		slog.Warn("readiness ping failed", "error", err)
		return false
	}
	return true
}

func stopServer(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
