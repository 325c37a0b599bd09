package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/httpserver"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/adapter/postgres"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/platform/config"
	"github.com/pscheid92/marketpulse/internal/platform/logging"
	"github.com/pscheid92/marketpulse/internal/platform/tracing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	connectTimeout = 10 * time.Second
	// Extra time on top of DRAIN_TIMEOUT for close frames and goroutine exit.
	shutdownGrace = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// hubConfig maps process configuration and channel definitions onto the hub.
func hubConfig(cfg *config.Config, channels config.Channels) (broadcast.Config, error) {
	hc := broadcast.DefaultConfig()
	hc.DefaultPolicy.QueueCapacity = cfg.QueueCapacity
	hc.DefaultPolicy.BufferCapacity = cfg.BufferCapacity

	policies, err := channels.Policies(hc.DefaultPolicy)
	if err != nil {
		return broadcast.Config{}, fmt.Errorf("channel definitions: %w", err)
	}
	hc.Channels = policies
	hc.StrictChannels = channels.StrictChannels

	hc.HeartbeatInterval = cfg.HeartbeatInterval
	hc.HeartbeatTimeout = cfg.HeartbeatTimeout
	hc.HeartbeatMaxMisses = cfg.HeartbeatMaxMisses
	hc.EnrichTimeout = cfg.EnrichTimeout
	hc.DrainTimeout = cfg.DrainTimeout
	hc.WriteTimeout = cfg.WriteTimeout
	hc.MaxConnectionsPerChannel = cfg.MaxConnectionsPerChannel

	if err := hc.Validate(); err != nil {
		return broadcast.Config{}, err
	}
	return hc, nil
}

type bridge struct {
	name  string
	run   func(ctx context.Context) error
	check func(ctx context.Context) error
	close func()
}

func setupBridges(ctx context.Context, cfg *config.Config, hub *broadcast.Hub, m *metrics.BridgeMetrics) ([]bridge, error) {
	var bridges []bridge

	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		rdb, err := redis.NewClient(connectCtx, cfg.RedisURL, m)
		if err != nil {
			return nil, err
		}
		b := redis.NewBridge(rdb, cfg.RedisChannelPrefix, hub, m)
		bridges = append(bridges, bridge{name: "redis", run: b.Run, check: b.Ping, close: func() { _ = rdb.Close() }})
	}

	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, m)
		if err != nil {
			for _, b := range bridges {
				b.close()
			}
			return nil, err
		}
		l := postgres.NewListener(pool, cfg.PGNotifyChannel, hub, m)
		bridges = append(bridges, bridge{name: "postgres", run: l.Run, check: l.Ping, close: pool.Close})
	}

	return bridges, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		return err
	}
	hubCfg, err := hubConfig(cfg, channels)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	reg := metrics.NewRegistry()
	hub, err := broadcast.NewHub(hubCfg, clockwork.NewRealClock(), metrics.NewBroadcastMetrics(reg))
	if err != nil {
		return err
	}

	bridges, err := setupBridges(ctx, cfg, hub, metrics.NewBridgeMetrics(reg))
	if err != nil {
		_ = hub.Shutdown(context.Background())
		return err
	}
	checks := make([]httpserver.HealthCheck, 0, len(bridges))
	for _, b := range bridges {
		defer b.close()
		checks = append(checks, httpserver.HealthCheck{Name: b.name, Check: b.check})
	}

	srv := httpserver.NewServer(cfg, hub, reg, checks)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "channels", len(hubCfg.Channels), "bridges", len(bridges))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	for _, b := range bridges {
		g.Go(func() error { return b.run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, draining")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DrainTimeout+shutdownGrace)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), hub.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}
