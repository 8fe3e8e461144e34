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

	"golang.org/x/sync/errgroup"

	"github.com/room4-2/livevoice/config"
	"github.com/room4-2/livevoice/device"
	"github.com/room4-2/livevoice/dialer"
	"github.com/room4-2/livevoice/metrics"
	"github.com/room4-2/livevoice/server"
	"github.com/room4-2/livevoice/session"
	"github.com/room4-2/livevoice/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	terminate, err := device.Init()
	if err != nil {
		logger.Error("audio devices unavailable", "error", err)
		return 1
	}
	defer terminate()

	d, err := dialer.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create transport", "error", err)
		return 1
	}

	mx := metrics.New("")
	manager := session.NewManager(cfg, d, device.NewMicrophone(logger),
		session.WithLogger(logger),
		session.WithMetrics(mx),
		session.WithSink(device.NewSpeaker(logger)),
	)

	// Redis is optional; run without the status mirror if it is unreachable.
	if cfg.RedisURL != "" {
		mirror, err := status.Connect(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.StatusTTL, logger)
		if err != nil {
			logger.Warn("⚠️ Redis unavailable, status mirror disabled", "error", err)
		} else {
			defer mirror.Close()
			defer manager.Subscribe(mirror)()
			logger.Info("📇 status mirror enabled", "redis", cfg.RedisURL)
		}
	}

	srv := server.New(cfg, manager, mx, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.IdleTimeout > 0 {
		g.Go(func() error {
			manager.ReapIdle(gctx, cfg.IdleTimeout)
			return nil
		})
	}
	if cfg.AutoStart {
		g.Go(func() error {
			if err := manager.Start(gctx); err != nil && !errors.Is(err, session.ErrSessionStopped) {
				logger.Warn("⚠️ auto-start failed", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		return 1
	}
	logger.Info("Server stopped")
	return 0
}
