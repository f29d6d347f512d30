package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricesync/internal/agent"
	"pricesync/internal/api"
	"pricesync/internal/config"
	"pricesync/internal/crawler"
	"pricesync/internal/engine"
	"pricesync/internal/fetch"
	"pricesync/internal/ledger"
	"pricesync/internal/monitoring"
	"pricesync/internal/resolve"
	"pricesync/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	ctx := context.Background()

	pgStore, err := ledger.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := pgStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure ledger schema", zap.Error(err))
	}
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	resolver, err := resolve.New(cfg.BaseURL)
	if err != nil {
		logger.Fatal("invalid base URL", zap.Error(err))
	}

	fetcher := fetch.New(fetch.Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxRetries:        uint64(cfg.MaxRetries),
		BackoffBase:       time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		Timeout:           time.Duration(cfg.FetchTimeoutSecs) * time.Second,
	}, agent.NewPool(time.Now().UnixNano()), logger)

	coreCrawler := crawler.New(fetcher, resolver, metrics, logger, crawler.Options{
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.CrawlWorkers,
		MinBatchDelay: time.Duration(cfg.MinBatchDelayMS) * time.Millisecond,
		MaxBatchDelay: time.Duration(cfg.MaxBatchDelayMS) * time.Millisecond,
		MaxPrice:      decimal.NewFromFloat(cfg.MaxPlausiblePrice),
	})

	eng := engine.New(pgStore, coreCrawler, redisStore, metrics, logger, engine.Options{
		WriteBatchSize: cfg.BatchSize,
		MaxRetries:     uint64(cfg.MaxRetries),
		BackoffBase:    time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		StrictResolve:  cfg.StrictResolve,
		RecheckTTL:     time.Duration(cfg.RecheckTTLHours) * time.Hour,
	})

	server := api.NewServer(cfg, eng, pgStore, redisStore, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	pgStore.Close()

	logger.Info("server exiting")
}
