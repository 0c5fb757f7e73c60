// Package main 摄取 worker 入口：消费摄取请求与索引事件，并定期清理过期索引版本
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shayak-swasth-rag/internal/app"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/infrastructure/messaging"
	"shayak-swasth-rag/internal/interfaces/worker"
	einoobs "shayak-swasth-rag/internal/observability/eino"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/tracer"
)

const dlqAlertThreshold = 100

// Version 构建时注入
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    "ingest-worker",
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init(cfg.Observability)

	container, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize app", err)
	}
	defer container.Close()

	if container.Redis == nil {
		logger.Fatal(ctx, "ingest-worker requires redis", errors.New("cache.redis.host is empty"))
	}

	streamCfg := cfg.Messaging.RedisStream
	newConsumer := func(stream messaging.Stream, group messaging.ConsumerGroup, reclaimIdle time.Duration) *messaging.Consumer {
		return messaging.NewConsumer(container.Redis.Redis(), messaging.ConsumerConfig{
			Stream:        stream,
			Group:         group.WithPrefix(streamCfg.ConsumerGroupPrefix),
			ConsumerName:  hostnameConsumerName(),
			BlockTimeout:  streamCfg.BlockTimeout,
			ClaimInterval: streamCfg.ClaimInterval,
			ReclaimIdle:   reclaimIdle,
			RetryLimit:    streamCfg.RetryLimit,
			Backoff:       messaging.BackoffFromConfig(streamCfg.RetryBackoff),
		})
	}

	ingestConsumer := newConsumer(messaging.StreamIngestRequest, messaging.ConsumerGroupIngestWorker, container.Ingestion.StaleAfter())
	ingestConsumer.RegisterHandler(messaging.TypeIngestRequest, worker.IngestHandler(container.Ingestion))

	indexConsumer := newConsumer(messaging.StreamIndexEvents, messaging.ConsumerGroupIndexMaintainer, 0)
	indexConsumer.RegisterHandler(messaging.TypeIndexPersisted, worker.IndexEventHandler(container.Indexes, cfg.Index.Retention))

	for _, c := range []*messaging.Consumer{ingestConsumer, indexConsumer} {
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
	}
	go ingestConsumer.MonitorDLQ(ctx, dlqAlertThreshold)

	interval := cfg.Index.EvictionInterval
	if interval <= 0 {
		interval = time.Hour
	}
	scheduler, err := worker.NewEvictionScheduler(container.Indexes, interval, cfg.Index.Retention)
	if err != nil {
		logger.Fatal(ctx, "failed to schedule index eviction", err)
	}
	reapInterval := cfg.Ingestion.ReapInterval
	if reapInterval <= 0 {
		reapInterval = 5 * time.Minute
	}
	if err := scheduler.ScheduleStaleRecovery(container.Ingestion, reapInterval); err != nil {
		logger.Fatal(ctx, "failed to schedule stale processing recovery", err)
	}
	scheduler.Start()

	log := logger.FromContext(ctx)
	log.Info("ingest-worker started",
		"eviction_interval", interval.String(),
		"retention", cfg.Index.Retention.String(),
		"stale_after", container.Ingestion.StaleAfter().String(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ingest-worker shutting down")
	scheduler.Stop()
	ingestConsumer.Stop()
	indexConsumer.Stop()
	cancel()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
