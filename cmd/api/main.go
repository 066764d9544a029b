package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "moderation-queue/internal/api"
	"moderation-queue/internal/config"
	"moderation-queue/internal/logging"
	"moderation-queue/internal/moderation"
	"moderation-queue/internal/ratelimit"
	"moderation-queue/internal/store"
	"moderation-queue/internal/telemetry"
	"moderation-queue/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.WithField("env", cfg.Env).Info("moderation queue api starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL, store.PoolOptions{
		MinConns: int32(cfg.PoolMinConns),
		MaxConns: int32(cfg.PoolMaxConns),
	})
	if err != nil {
		logger.WithError(err).Fatal("connect postgres")
	}
	defer st.Close()

	if _, err := st.RunMigrations(ctx, store.MigratorOptions{
		LockKey:      cfg.MigrationLockKey,
		LockTimeout:  cfg.MigrationLockTimeout,
		PollInterval: cfg.MigrationLockPollInterval,
		Logger:       logger,
	}); err != nil {
		logger.WithError(err).Fatal("migrations")
	}

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	} else {
		logger.Info("REDIS_ADDR not set, rate limiting disabled")
	}

	svc := moderation.NewService(st, cfg.ModeratorLockBaseKey, logger)
	go func() {
		_ = worker.NewStatsRefresher(svc, cfg.StatsRefreshInterval, logger).Run(ctx)
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
	} else {
		logger.Info("METRICS_ADDR not set, metrics endpoint disabled")
	}

	server := api.New(svc, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Infof("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	logger.Info("moderation queue api shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
