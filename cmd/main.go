package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/pagecache/internal/cache"
	"github.com/l0p7/pagecache/internal/config"
	"github.com/l0p7/pagecache/internal/engine"
	"github.com/l0p7/pagecache/internal/logging"
	"github.com/l0p7/pagecache/internal/metrics"
	"github.com/l0p7/pagecache/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PAGECACHE", "environment variable prefix")
		watch      = flag.Bool("watch", false, "reload policies and routes when the config file changes")
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

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	store := cache.NewMemory()
	eng, err := engine.New(engine.Options{
		Store:   store,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("unable to construct cache engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := eng.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	router := server.NewRouter(eng, recorder, logger)
	if err := installRoutes(router, cfg); err != nil {
		logger.Error("route construction failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *watch && *configFile != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if err := installRoutes(router, next); err != nil {
				logger.Error("config reload rejected", slog.Any("error", err))
				return
			}
			// Retired policies must not keep serving stale bodies.
			if err := eng.Flush(ctx); err != nil {
				logger.Error("cache flush after reload failed", slog.Any("error", err))
			}
			logger.Info("configuration reloaded",
				slog.Int("routes", len(next.Routes)),
				slog.Int("policies", len(next.Policies)+1))
		}, func(err error) {
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

	srv, err := server.New(cfg, logger, router)
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

// installRoutes rebuilds the policy registry and route table from a config
// snapshot and swaps them into the router atomically.
func installRoutes(router *server.Router, cfg config.Config) error {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	routes, err := buildRoutes(cfg, reg)
	if err != nil {
		return err
	}
	router.Swap(routes, reg.Len())
	return nil
}
