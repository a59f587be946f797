package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oddsedge-gateway/internal/cache"
	"oddsedge-gateway/internal/coalesce"
	"oddsedge-gateway/internal/config"
	"oddsedge-gateway/internal/handlers"
	"oddsedge-gateway/internal/hotkeys"
	"oddsedge-gateway/internal/httpserver"
	"oddsedge-gateway/internal/metrics"
	"oddsedge-gateway/internal/provider"
	"oddsedge-gateway/internal/scheduler"
	"oddsedge-gateway/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := config.Load()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("provider_base_url", cfg.ProviderBaseURL),
		zap.Duration("odds_interval", cfg.Poll.Odds),
		zap.Duration("hot_ttl", cfg.HotTTL),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Int("stale_multiplier", cfg.StaleMultiplier),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Coalescer + cache -----
	co := coalesce.New(logger)

	store := cache.NewStore(cache.Config{
		Backend:         cfg.CacheBackend,
		Prefix:          cfg.CachePrefix,
		StaleMultiplier: cfg.StaleMultiplier,
		CleanupInterval: time.Minute,
	}, redisClient, co, logger)
	defer store.Close()
	store = cache.NewLoggingStore(store)

	// ----- Provider client -----
	providerClient, err := provider.NewClient(provider.Config{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		RequestTimeout: cfg.RequestTimeout,
		PostTimeout:    cfg.PostTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := providerClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Hot-key registry -----
	hot := hotkeys.NewRegistry(store, hotkeys.DefaultPrefix, cfg.HotTTL, cfg.DefaultSportID, logger)

	// ----- Scheduler -----
	sched := scheduler.New(scheduler.Config{
		OddsInterval:      cfg.Poll.Odds,
		MatchListInterval: cfg.Poll.MatchList,
		TopEventsInterval: cfg.Poll.TopEvents,
		BannersInterval:   cfg.Poll.Banners,
		SidebarInterval:   cfg.Poll.Sidebar,
		SportsTTL:         cfg.TTL.Sports,
		MatchListTTL:      cfg.TTL.MatchList,
		OddsTTL:           cfg.TTL.Odds,
		SidebarTTL:        cfg.TTL.Sidebar,
		TopEventsTTL:      cfg.TTL.TopEvents,
		BannersTTL:        cfg.TTL.Banners,
		MaxConcurrency:    cfg.MaxConcurrency,
		StopGrace:         cfg.RequestTimeout,
	}, providerClient, store, co, hot, logger)

	sched.Start(context.Background())

	// ----- Handlers -----
	edge := handlers.NewEdgeHandler(store, co, hot, providerClient, sched, cfg.TTL, cfg.DefaultSportID)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, edge)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	// Timers first so no new upstream work starts while the server drains.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
