package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/config"
	gateway "github.com/nimasrn/payment-reconciler/internal/gateways"
	"github.com/nimasrn/payment-reconciler/internal/handlers"
	"github.com/nimasrn/payment-reconciler/internal/identity"
	"github.com/nimasrn/payment-reconciler/internal/notify"
	"github.com/nimasrn/payment-reconciler/internal/processor"
	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/internal/repository"
	"github.com/nimasrn/payment-reconciler/internal/services"
	"github.com/nimasrn/payment-reconciler/internal/signature"
	xhttp "github.com/nimasrn/payment-reconciler/pkg/http"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load(config.ArgEnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	if err = cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return
	}
	logger.Info("starting payment api", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.PostgresDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

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

	// payment events are best effort; the api runs without the stream
	var events services.EventPublisher = notify.Noop{}
	eventQueue, err := queue.NewQueue(ctx, redisAdap, queue.QueueConfig{
		Name:          cfg.EventStreamName,
		ConsumerGroup: cfg.EventConsumerGroup,
		MaxLen:        cfg.EventMaxLen,
	})
	if err != nil {
		logger.Error("failed creating event stream, events disabled", "error", err)
	} else {
		events = notify.NewQueuePublisher(eventQueue)
	}

	client, err := gateway.NewClient(gateway.Config{
		BaseURL:          cfg.MidtransBaseURL(),
		ServerKey:        cfg.MidtransServerKey,
		Timeout:          cfg.MidtransTimeout,
		MaxConns:         512,
		BreakerThreshold: cfg.MidtransBreakerFailures,
		BreakerCooldown:  cfg.MidtransBreakerCooldown,
	})
	if err != nil {
		logger.Error("failed to create gateway client", "error", err)
		return
	}
	defer client.Close()

	transactionRepo := repository.NewTransactionRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	userRepo := repository.NewUserRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	planRepo := repository.NewPlanRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	ledger := services.Ledger{
		Tx:            db,
		Transactions:  transactionRepo,
		Invoices:      invoiceRepo,
		Companies:     companyRepo,
		Subscriptions: subscriptionRepo,
		Plans:         planRepo,
	}

	guard := processor.NewIdempotencyService(redisAdap, processor.IdempotencyConfig{
		LockTTL:            cfg.WebhookLockTTL,
		ProcessedTTL:       cfg.WebhookProcessedTTL,
		LockKeyPrefix:      "webhook:lock:",
		ProcessedKeyPrefix: "webhook:processed:",
	})

	// services
	paymentService := services.NewPaymentService(ledger, client, events)
	reconcileService := services.NewReconcileService(ledger, signature.NewVerifier(cfg.MidtransServerKey), guard, notificationRepo, events)
	healthService := services.NewHealthService(db, redisAdap)
	auth := identity.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, userRepo)

	opts := xhttp.DefaultServerOption()
	opts.Name = cfg.AppName
	opts.ReadTimeout = cfg.HttpReadTimeout
	opts.WriteTimeout = cfg.HttpWriteTimeout
	opts.RequestTimeout = cfg.HttpRequestTimeout
	s := xhttp.NewServer(opts)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.CompressMiddleware(6))

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterTransactionRoutes(g, handlers.NewTransactionHandler(paymentService, reconcileService), auth)
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(healthService))

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			stop()
		}
	}()
	go reportGatewayStats(ctx, client)

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if eventQueue != nil {
		_ = eventQueue.Stop(5 * time.Second)
	}
	_ = logger.Sync()
}

func reportGatewayStats(ctx context.Context, client *gateway.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := client.Stats()
			logger.Info("gateway stats",
				"state", st.State,
				"requests", st.TotalRequests,
				"success_rate", st.SuccessRate,
				"avg_latency_ms", st.AvgLatencyMs,
				"p95_latency_ms", st.P95LatencyMs)
		}
	}
}
