package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/islandhamstar/covid-impact/internal/adapter/datalake"
	httpadapter "github.com/islandhamstar/covid-impact/internal/adapter/http"
	kafkaadapter "github.com/islandhamstar/covid-impact/internal/adapter/kafka"
	"github.com/islandhamstar/covid-impact/internal/adapter/rediscache"
	"github.com/islandhamstar/covid-impact/internal/config"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
	"github.com/islandhamstar/covid-impact/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	catalog, err := config.LoadRegionCatalog(cfg.RegionsFile, cfg.Regions)
	if err != nil {
		logger.Error("failed to load region catalog", "error", err)
		os.Exit(1)
	}
	scoreCfg, err := config.LoadScoreConfig(cfg.WeightsFile)
	if err != nil {
		logger.Error("failed to load score config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Fetch chain: memory LRU -> optional Redis -> data lake.
	var fetcher domain.Fetcher = datalake.NewClient(cfg.DatalakeURL, cfg.DatalakeTimeout, cfg.DatalakeMaxRetries, cfg.PolicyExpression, logger, metrics)
	if cfg.RedisEnabled {
		redisClient := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()

		cached := rediscache.New(fetcher, redisClient, cfg.RedisCacheTTL, logger, metrics)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := cached.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup, continuing without shared cache until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		fetcher = cached
		logger.Info("redis fetch cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisCacheTTL)
	}
	fetcher = datalake.NewCachedFetcher(fetcher, cfg.DatalakeCacheSize, cfg.DatalakeCacheTTL, metrics)

	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka publishing disabled")
	}

	job := pipeline.New(fetcher, publisher, catalog, scoreCfg, pipeline.Settings{
		Range:            cfg.DateRange,
		Interval:         cfg.ScoreInterval,
		PolicyThreshold:  cfg.PolicyChangeThreshold,
		PolicyPreWindow:  cfg.PolicyPreWindow,
		PolicyPostWindow: cfg.PolicyPostWindow,
		PolicyIndicator:  cfg.PolicyImpactIndicator,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, job, job, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Hot-reload weights.
	if cfg.WeightsFile != "" {
		go func() {
			if err := config.WatchScoreConfig(ctx, cfg.WeightsFile, logger, job.SetScoreConfig); err != nil {
				logger.Error("score config watcher stopped", "error", err)
			}
		}()
	}

	// Start scoring job.
	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		if err := job.Run(ctx); err != nil {
			logger.Error("scoring job error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// A run in flight may still be publishing.
	select {
	case <-jobDone:
	case <-shutdownCtx.Done():
		logger.Warn("scoring job did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
