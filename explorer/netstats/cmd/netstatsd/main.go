package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gpunet/gpunet/explorer/netstats/config"
	"github.com/gpunet/gpunet/explorer/netstats/internal/api"
	"github.com/gpunet/gpunet/explorer/netstats/internal/cache"
	"github.com/gpunet/gpunet/explorer/netstats/internal/metrics"
	"github.com/gpunet/gpunet/explorer/netstats/internal/service"
	"github.com/gpunet/gpunet/explorer/netstats/internal/store"
	"github.com/gpunet/gpunet/explorer/netstats/internal/subscriber"
	"github.com/gpunet/gpunet/explorer/netstats/pkg/logger"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	log := logger.NewLogger("netstatsd")
	log.Info("Starting network stats service", "version", version, "build_time", buildTime)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	log.Info("Connecting to database", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := store.Open(ctx, store.Config{
		URL:            cfg.Database.GetConnectionString(),
		MaxConnections: cfg.Database.MaxOpenConns,
		MaxIdle:        cfg.Database.MaxIdleConns,
		ConnMaxLife:    cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Error("Failed to initialise schema", "error", err)
		os.Exit(1)
	}

	log.Info("Connecting to Redis", "address", cfg.Redis.GetRedisAddr())
	redisCache, err := cache.NewRedisCache(ctx, cache.Config{
		Address:  cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		TTL:      cfg.Redis.CacheTTL,
	})
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	svc := service.New(db, redisCache, log.With("component", "tracker"), cfg.Stats.SnapshotInterval)
	if err := svc.Restore(ctx); err != nil {
		log.Error("Failed to restore tracker", "error", err)
		os.Exit(1)
	}

	log.Info("Subscribing to chain", "chain_id", cfg.Chain.ChainID, "ws_url", cfg.Chain.WSURL)
	sub := subscriber.NewSubscriber(subscriber.Config{
		WSURL:          cfg.Chain.WSURL,
		BufferSize:     cfg.Stats.EventBuffer,
		ReconnectDelay: cfg.Chain.ReconnectDelay,
		MaxReconnects:  cfg.Chain.MaxReconnects,
	})
	if err := sub.Start(); err != nil {
		log.Error("Failed to start subscriber", "error", err)
		os.Exit(1)
	}
	defer sub.Stop()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := svc.Run(ctx, sub.Batches()); err != nil {
			if errors.Is(err, service.ErrSubscriptionClosed) {
				log.Error("Chain subscription ended")
			} else {
				log.Error("Tracker failed", "error", err)
			}
			cancel()
		}
	}()

	apiServer := api.NewServer(cfg.API, svc.Tracker(), db, redisCache, log.With("component", "api"))
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received interrupt signal, shutting down gracefully")
		cancel()
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", "error", err)
	}

	select {
	case <-runDone:
	case <-shutdownCtx.Done():
		log.Warn("Tracker did not stop before the shutdown deadline")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop metrics server gracefully", "error", err)
		}
	}

	log.Info("Network stats service stopped")
}
