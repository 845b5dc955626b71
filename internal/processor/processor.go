package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
	"github.com/nimasrn/payment-reconciler/pkg/worker"
)

const ProcessingTimeout = time.Second * 15
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

type ServiceConfig struct {
	Queue             queue.QueueConfig
	Consumers         int
	Workers           int
	BufferSize        int
	ProcessingTimeout time.Duration
	MetricsInterval   time.Duration
}

// ProcessorService consumes the event stream and fans messages out to a worker pool
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager[*job]
}

// Processor handles one stream message. Returning an error leaves it for redelivery.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

func NewProcessorService(adapter redis.RedisAdapter, config ServiceConfig) *ProcessorService {
	if config.Consumers < 1 {
		config.Consumers = 1
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BufferSize < 1 {
		config.BufferSize = config.Workers * 10
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = ProcessingTimeout
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		config:  config,
		metrics: NewServiceMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager[*job](config.BufferSize, config.Workers),
	}
}

func (s *ProcessorService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("registered processor", "type", processor.GetType())
}

// Start creates the consumers and returns once they are running.
func (s *ProcessorService) Start() error {
	logger.Info("starting processor service",
		"stream", s.config.Queue.Name,
		"consumers", s.config.Consumers,
		"workers", s.config.Workers)

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Start(s.ctx)
	}()

	for i := 0; i < s.config.Consumers; i++ {
		queueConfig := s.config.Queue
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Debug("started consumer instance", "instance", i, "consumer", queueConfig.ConsumerName)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("processor service started", "consumers", len(s.queues), "workers", s.config.Workers)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("processor metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"],
		"buffered_jobs", s.worker.GetUnreadCount())

	for i, q := range s.queues {
		if qStats, err := q.GetStats(context.Background()); err == nil {
			logger.Info("queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Ping(s.ctx); err != nil {
		logger.Error("health check failed: redis connection error", "error", err)
		return
	}

	for i, q := range s.queues {
		stats, err := q.GetStats(s.ctx)
		if err != nil {
			logger.Warn("health check: queue stats unavailable", "queue", i, "error", err)
			continue
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("health check: queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}

	logger.Debug("health check ok")
}

// Stats exposes the counters for tests and the status log.
func (s *ProcessorService) Stats() map[string]interface{} {
	return s.metrics.GetStats()
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")

	var stopWg sync.WaitGroup
	for i, q := range s.queues {
		stopWg.Add(1)
		go func(index int, q *queue.Queue) {
			defer stopWg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "queue", index, "error", err)
			}
		}(i, q)
	}
	stopWg.Wait()

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("processor service stopped")
}

type job struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands the message to the worker pool and waits for its result,
// so the queue acks only what a worker finished.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout+time.Second)
	defer cancel()

	if !s.worker.Enqueue(msgCtx, &job{msg: msg, resultChan: resultChan, ctx: msgCtx}) {
		return fmt.Errorf("worker pool unavailable: %w", msgCtx.Err())
	}

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(_ context.Context, workerIndex int, j *job) {
	start := time.Now()
	var resultErr error

	select {
	case <-j.ctx.Done():
		logger.Warn("job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	prom.AddRelayInFlight(s.config.Queue.Name, 1)
	defer prom.AddRelayInFlight(s.config.Queue.Name, -1)

	if s.processor == nil {
		logger.Warn("no processor registered, acking message", "worker", workerIndex, "message_id", j.msg.ID)
		s.metrics.RecordFailure()
	} else if err := s.processor.Process(j.ctx, j.msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("failed to process message", "worker", workerIndex, "message_id", j.msg.ID, "attempt", j.msg.Attempts, "error", err)
		resultErr = err
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// resultChan is buffered so a timed out handler never blocks the worker
	j.resultChan <- resultErr
}
