package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/gamestats/internal/config"
	"github.com/l0p7/gamestats/internal/logging"
	"github.com/l0p7/gamestats/internal/metrics"
	"github.com/l0p7/gamestats/internal/server"
	"github.com/l0p7/gamestats/internal/statsapi"
	"github.com/l0p7/gamestats/internal/storage"
	"github.com/l0p7/gamestats/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "GAMESTATS", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	application, err := newApp(logger, cfg, prometheus.NewRegistry())
	if err != nil {
		logger.Error("unable to assemble stats api", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	if len(loader.Files()) > 0 {
		watcher, err := loader.Watch(ctx, application.Apply, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg, logger, application.handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// app is the assembled process: store, worker, cached api and router.
type app struct {
	logger  *slog.Logger
	store   storage.Store
	service *statsapi.Service
	handler http.Handler
}

func newApp(logger *slog.Logger, cfg config.Config, reg *prometheus.Registry) (*app, error) {
	recorder := metrics.NewRecorder(reg)
	store := buildStore(logger.With(slog.String("agent", "store_factory")), cfg.Server.Storage)

	service, err := statsapi.New(logger, worker.New(store, logger), statsapi.Options{
		CacheEnabled:  cfg.Server.Cache.Enabled,
		Retention:     cfg.Server.Cache.Retention(),
		SweepInterval: cfg.Server.Cache.SweepInterval(),
		Metrics:       recorder,
	})
	if err != nil {
		_ = store.Close(context.Background())
		return nil, err
	}

	return &app{
		logger:  logger,
		store:   store,
		service: service,
		handler: server.NewRouter(service, recorder.Handler()),
	}, nil
}

// Apply takes the live-reloadable parts of a new config snapshot.
func (a *app) Apply(cfg config.Config) {
	a.service.SetCacheEnabled(cfg.Server.Cache.Enabled)
	a.logger.Info("configuration reloaded", slog.Any("sources", cfg.Sources))
}

func (a *app) Close(ctx context.Context) error {
	a.service.Close()
	return a.store.Close(ctx)
}

func buildStore(logger *slog.Logger, cfg config.StorageConfig) storage.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory store")
		}
		return storage.NewMemory()
	case "redis":
		redisStore, err := storage.NewRedis(storage.RedisConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TLS: storage.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis store initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory store")
			}
			return storage.NewMemory()
		}
		if logger != nil {
			logger.Info("using redis store", slog.String("address", cfg.Redis.Address))
		}
		return redisStore
	default:
		if logger != nil {
			logger.Warn("unsupported storage backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return storage.NewMemory()
	}
}
