package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackroadhq/eventmesh/internal/api"
	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/bus"
	"github.com/blackroadhq/eventmesh/internal/cache"
	"github.com/blackroadhq/eventmesh/internal/chat"
	"github.com/blackroadhq/eventmesh/internal/config"
	"github.com/blackroadhq/eventmesh/internal/dedupe"
	"github.com/blackroadhq/eventmesh/internal/engine"
	"github.com/blackroadhq/eventmesh/internal/mesh"
	"github.com/blackroadhq/eventmesh/internal/metrics"
	"github.com/blackroadhq/eventmesh/internal/redact"
	"github.com/blackroadhq/eventmesh/internal/store"
	"github.com/blackroadhq/eventmesh/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting meshd", slog.String("address", cfg.Server.Address))

	if cfg.Auth.Secret == "" {
		logger.Error("auth secret is required (EVENTMESH_AUTH_SECRET)")
		os.Exit(1)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.Secret)
	if err != nil {
		logger.Error("failed to build token verifier", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := buildCache(cfg.Cache, logger)
	defer cacheProvider.Close()

	eventStore, err := buildStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open event store", slog.Any("error", err))
		os.Exit(1)
	}

	eng := engine.New(logger, eventStore, engine.DefaultRules(), engine.Options{
		Cache:    cacheProvider,
		CacheTTL: cfg.Cache.CorrelateTTL,
	})

	redactor := redact.New(cfg.Mesh.RedactTerms...)
	redactor.OnRedact = metrics.RecordRedaction

	tracker := dedupe.NewTracker(cfg.Mesh.DedupeTTL)
	eventBus := bus.New(bus.Options{
		Buffer:     cfg.Mesh.SubscriberBuffer,
		Tracker:    tracker,
		OnOverflow: metrics.RecordSubscriberDrop,
	})

	m := mesh.New(logger, redactor, eventBus, eng)
	defer m.Close()

	mirror := chat.NewMirror(cfg.Chat.WebhookURL, cfg.Chat.WebhookTimeout, logger)
	chatSvc := chat.NewService(logger, redactor, mirror, m)

	server := api.New(logger, m, chatSvc, verifier, api.Options{
		IngestRate:  cfg.Ingest.RateLimit,
		IngestBurst: cfg.Ingest.Burst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(ctx, cfg.Server.Address, cfg.Server.GracefulTimeout); serveErr != nil {
			logger.Error("gateway exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("meshd stopped")
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	switch cfg.Backend {
	case "valkey":
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, continuing without cache", slog.Any("error", err))
			return cache.NoopProvider{}
		}
		return provider
	default:
		return cache.NewMemoryProvider()
	}
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "file":
		return store.NewFileStore(cfg.Path), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
