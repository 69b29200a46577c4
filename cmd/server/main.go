package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/printhaus/editions/internal/adapter/handler"
	"github.com/printhaus/editions/internal/adapter/storage"
	"github.com/printhaus/editions/internal/cache"
	"github.com/printhaus/editions/internal/config"
	"github.com/printhaus/editions/internal/core/service"
	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/notify"
	"github.com/printhaus/editions/internal/port"
	"github.com/printhaus/editions/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to ping mysql")
	}
	logging.Info().Msg("connected to mysql")

	store := storage.NewMySQLStore(db, cfg.MySQL.AcquireTimeout)

	// Payment dedup: Redis when available, in-process fallback otherwise.
	var dedup port.PaymentDedup = storage.NewMemoryDedup()
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.Fatal().Err(err).Msg("failed to connect redis")
		}
		dedup = storage.NewRedisDedup(rdb, cfg.Redis.DedupTTL)
		logging.Info().Msg("connected to redis")
	} else {
		logging.Warn().Msg("redis disabled, payment dedup is process-local")
	}

	// Resilience
	executor := resilience.NewExecutor(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	breaker := resilience.NewWriteBreaker(store, cfg.Breaker.FailureThreshold, cfg.Breaker.ProbeInterval, cfg.Breaker.ProbeTimeout)
	go breaker.Run(ctx)

	// Read cache
	readCache := cache.New(cfg.Cache.CleanupInterval)
	ttls := service.CacheTTLs{
		Detail:       cfg.Cache.DetailTTL,
		Availability: cfg.Cache.AvailabilityTTL,
		Purchases:    cfg.Cache.PurchasesTTL,
		Seller:       cfg.Cache.SellerTTL,
	}

	// Event dispatch
	dispatcher := notify.NewDispatcher(notify.LogSink{}, cfg.Notify.QueueSize, cfg.Notify.Workers)

	purchases := service.NewPurchaseService(store, executor, breaker, readCache, ttls, dedup, dispatcher)
	publishes := service.NewPublishService(store, executor, breaker, readCache, ttls, cfg.Quota.MaxPublished, dispatcher)

	httpHandler := handler.NewHTTPHandler(purchases, publishes, breaker.Healthy)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		logging.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown error")
	}
	logging.Info().Msg("http server stopped")

	cancel()

	dispatcher.Close()
	logging.Info().Msg("event dispatcher drained")

	readCache.Close()
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logging.Info().Msg("connections closed")
}
