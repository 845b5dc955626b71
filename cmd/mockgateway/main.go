package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimasrn/payment-reconciler/internal/signature"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

// ChargeRequest is the subset of the charge body the sandbox understands.
type ChargeRequest struct {
	PaymentType        string `json:"payment_type" binding:"required"`
	TransactionDetails struct {
		OrderID     string `json:"order_id" binding:"required"`
		GrossAmount int64  `json:"gross_amount" binding:"required"`
	} `json:"transaction_details"`
}

// GatewayResponse mirrors the gateway's response body. status_code is a string.
type GatewayResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	GrossAmount       string `json:"gross_amount,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`
	TransactionStatus string `json:"transaction_status,omitempty"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	TransactionTime   string `json:"transaction_time,omitempty"`
}

// Notification is the signed webhook body posted back to the merchant.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	TransactionTime   string `json:"transaction_time"`
}

type order struct {
	id          string
	paymentType string
	gross       decimal.Decimal
	status      string
	createdAt   time.Time
}

// Sandbox simulates the payment gateway: it accepts charges, answers cancel and
// status calls, and later settles or expires each charge with a signed webhook.
type Sandbox struct {
	serverKey  string
	webhookURL string
	settleRate float64
	minDelay   time.Duration
	maxDelay   time.Duration

	mu     sync.Mutex
	orders map[string]*order
	rng    *rand.Rand
	client *fasthttp.Client
}

func NewSandbox(serverKey, webhookURL string, settleRate float64, minDelay, maxDelay time.Duration) *Sandbox {
	return &Sandbox{
		serverKey:  serverKey,
		webhookURL: webhookURL,
		settleRate: settleRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		orders:     make(map[string]*order),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		client:     &fasthttp.Client{Name: "mockgateway", ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
	}
}

func (s *Sandbox) authorized(c *gin.Context) bool {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(s.serverKey+":"))
	if c.GetHeader("Authorization") == want {
		return true
	}
	c.JSON(http.StatusUnauthorized, GatewayResponse{
		StatusCode:    "401",
		StatusMessage: "Access denied due to unauthorized transaction, please check client or server key",
	})
	return false
}

func (s *Sandbox) Charge(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, GatewayResponse{StatusCode: "400", StatusMessage: "Validation error: " + err.Error()})
		return
	}

	s.mu.Lock()
	if existing, ok := s.orders[req.TransactionDetails.OrderID]; ok && existing.status != "cancel" && existing.status != "expire" {
		s.mu.Unlock()
		c.JSON(http.StatusOK, GatewayResponse{StatusCode: "406", StatusMessage: "The request could not be completed due to a conflict with the current state of the target resource, please try again"})
		return
	}
	o := &order{
		id:          uuid.NewString(),
		paymentType: req.PaymentType,
		gross:       decimal.NewFromInt(req.TransactionDetails.GrossAmount),
		status:      "pending",
		createdAt:   time.Now(),
	}
	s.orders[req.TransactionDetails.OrderID] = o
	s.mu.Unlock()

	log.Info().
		Str("order_id", req.TransactionDetails.OrderID).
		Str("payment_type", req.PaymentType).
		Str("gross_amount", o.gross.StringFixed(2)).
		Msg("charge accepted")

	c.JSON(http.StatusOK, s.response(req.TransactionDetails.OrderID, o, "201", "Success, transaction is created"))

	go s.resolveLater(req.TransactionDetails.OrderID)
}

func (s *Sandbox) Cancel(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	orderID := c.Param("order_id")

	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusOK, GatewayResponse{StatusCode: "404", StatusMessage: "Transaction doesn't exist."})
		return
	}
	if o.status != "pending" {
		s.mu.Unlock()
		c.JSON(http.StatusOK, GatewayResponse{StatusCode: "412", StatusMessage: "Merchant cannot modify the status of the transaction"})
		return
	}
	o.status = "cancel"
	res := s.response(orderID, o, "200", "Success, transaction is canceled")
	s.mu.Unlock()

	log.Info().Str("order_id", orderID).Msg("charge cancelled")
	c.JSON(http.StatusOK, res)
}

func (s *Sandbox) Status(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	orderID := c.Param("order_id")

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		c.JSON(http.StatusOK, GatewayResponse{StatusCode: "404", StatusMessage: "Transaction doesn't exist."})
		return
	}
	code := statusCodeFor(o.status)
	c.JSON(http.StatusOK, s.response(orderID, o, code, "Success, transaction is found"))
}

// UpdateConfig changes the settlement rate at runtime.
func (s *Sandbox) UpdateConfig(c *gin.Context) {
	var cfg struct {
		SettleRate *float64 `json:"settle_rate"`
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	s.mu.Lock()
	if cfg.SettleRate != nil && *cfg.SettleRate >= 0 && *cfg.SettleRate <= 1 {
		s.settleRate = *cfg.SettleRate
		log.Info().Float64("rate", *cfg.SettleRate).Msg("updated settle rate")
	}
	rate := s.settleRate
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"settle_rate": rate})
}

func (s *Sandbox) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func (s *Sandbox) response(orderID string, o *order, code, message string) GatewayResponse {
	return GatewayResponse{
		StatusCode:        code,
		StatusMessage:     message,
		TransactionID:     o.id,
		OrderID:           orderID,
		GrossAmount:       o.gross.StringFixed(2),
		PaymentType:       o.paymentType,
		TransactionStatus: o.status,
		FraudStatus:       "accept",
		TransactionTime:   o.createdAt.Format("2006-01-02 15:04:05"),
	}
}

func statusCodeFor(status string) string {
	switch status {
	case "settlement":
		return "200"
	case "expire":
		return "407"
	case "cancel":
		return "200"
	}
	return "201"
}

func (s *Sandbox) resolveLater(orderID string) {
	s.mu.Lock()
	delay := s.minDelay
	if span := s.maxDelay - s.minDelay; span > 0 {
		delay += time.Duration(s.rng.Int63n(int64(span)))
	}
	s.mu.Unlock()
	time.Sleep(delay)

	n, ok := s.resolve(orderID)
	if !ok {
		return
	}
	if err := s.sendNotification(n); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("webhook delivery failed")
	}
}

// resolve settles or expires a still pending charge and builds its signed notification.
func (s *Sandbox) resolve(orderID string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.status != "pending" {
		return Notification{}, false
	}
	o.status = "expire"
	if s.rng.Float64() < s.settleRate {
		o.status = "settlement"
	}

	code := statusCodeFor(o.status)
	if o.status == "expire" {
		code = "202"
	}
	gross := o.gross.StringFixed(2)
	return Notification{
		OrderID:           orderID,
		StatusCode:        code,
		GrossAmount:       gross,
		SignatureKey:      signature.Sign(orderID, code, gross, s.serverKey),
		TransactionStatus: o.status,
		PaymentType:       o.paymentType,
		FraudStatus:       "accept",
		TransactionID:     o.id,
		TransactionTime:   o.createdAt.Format("2006-01-02 15:04:05"),
	}, true
}

func (s *Sandbox) sendNotification(n Notification) error {
	if s.webhookURL == "" {
		log.Info().Str("order_id", n.OrderID).Str("transaction_status", n.TransactionStatus).Msg("no webhook url, notification dropped")
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.webhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	// the merchant answers non-2xx until it has applied the notification
	for attempt := 1; attempt <= 5; attempt++ {
		if err = s.client.DoTimeout(req, resp, 10*time.Second); err == nil && resp.StatusCode() < 300 {
			log.Info().
				Str("order_id", n.OrderID).
				Str("transaction_status", n.TransactionStatus).
				Int("attempt", attempt).
				Msg("webhook delivered")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("merchant answered %d", resp.StatusCode())
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return err
}

// SetupRouter configures all routes
func SetupRouter(s *Sandbox) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v2 := router.Group("/v2")
	{
		v2.POST("/charge", s.Charge)
		v2.POST("/:order_id/cancel", s.Cancel)
		v2.GET("/:order_id/status", s.Status)
	}
	router.PUT("/config", s.UpdateConfig)
	router.GET("/health", s.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	serverKey := getEnv("MIDTRANS_SERVER_KEY", "SB-Mid-server-local")
	webhookURL := getEnv("WEBHOOK_URL", "http://localhost:8080/api/v1/transactions/webhook")
	settleRate := getEnvFloat("SETTLE_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 10*time.Second)

	log.Info().
		Str("port", port).
		Str("webhook_url", webhookURL).
		Float64("settle_rate", settleRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("starting sandbox gateway")

	router := SetupRouter(NewSandbox(serverKey, webhookURL, settleRate, minDelay, maxDelay))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := decimal.NewFromString(value); err == nil {
			return f.InexactFloat64()
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
