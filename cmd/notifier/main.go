package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/payment-reconciler/internal/config"
	"github.com/nimasrn/payment-reconciler/internal/processor"
	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// notifier relays payment events from the stream to the notification hook.
func main() {
	cfg, err := config.Load(config.ArgEnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	logger.Info("starting notifier", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisAdap, err := redis.NewRedisAdapter(ctx, cfg.RedisUniversalKeyPrefix, cfg.RedisOptions())
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		if err := prom.ListenAndServer(cfg.MetricsListenAddr, "/metrics"); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())

	service := processor.NewProcessorService(redisAdap, processor.ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              cfg.EventStreamName,
			ConsumerGroup:     cfg.EventConsumerGroup,
			ConsumerName:      cfg.EventConsumer(),
			MaxRetries:        cfg.EventMaxRetries,
			VisibilityTimeout: cfg.EventVisibilityTimeout,
			PollInterval:      cfg.EventPollInterval,
			BatchSize:         cfg.EventBatchSize,
			MaxLen:            cfg.EventMaxLen,
			EnableDLQ:         cfg.EventEnableDLQ,
		},
		Consumers: 1,
		Workers:   cfg.NotifyWorkers,
	})
	service.RegisterProcessor(processor.NewEventProcessor(processor.HookConfig{
		URL:     cfg.NotifyHookURL,
		Timeout: cfg.NotifyTimeout,
	}, idempotencyService))

	if err = service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	<-ctx.Done()
	service.Stop()
	_ = logger.Sync()
}
