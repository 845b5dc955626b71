package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/prom"
	"github.com/valyala/fasthttp"
)

var ErrHookRejected = errors.New("notification hook rejected the event")

type HookConfig struct {
	URL     string
	Timeout time.Duration

	// Dial overrides the TCP dialer, e.g. with an in-memory listener.
	Dial fasthttp.DialFunc
}

// EventProcessor relays payment events to the notification hook (email and chat
// senders live behind it). Each event is delivered at most once per processed
// marker lifetime.
type EventProcessor struct {
	config      HookConfig
	client      *fasthttp.Client
	idempotency *IdempotencyService
}

func NewEventProcessor(config HookConfig, idempotency *IdempotencyService) *EventProcessor {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &EventProcessor{
		config: config,
		client: &fasthttp.Client{
			Name:         "payment-reconciler-notifier",
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			Dial:         config.Dial,
		},
		idempotency: idempotency,
	}
}

func (p *EventProcessor) GetType() string {
	return "payment_event"
}

func (p *EventProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var event model.PaymentEvent
	if err := json.Unmarshal(queueMessage.Data, &event); err != nil {
		logger.Error("failed to unmarshal payment event", "message_id", queueMessage.ID, "error", err)
		prom.IncRelayDelivery("unknown", "malformed")
		// redelivery will not fix it; the queue dead-letters after max retries
		return err
	}
	if event.ID == "" {
		event.ID = queueMessage.ID
	}

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, "event:"+event.ID, "event:"+event.ID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		logger.Info("event already delivered, skipping", "event_id", event.ID)
		prom.IncRelayDelivery(string(event.Type), "duplicate")
		return nil
	case errors.Is(err, ErrLockAcquireFailed):
		return fmt.Errorf("event %s is being delivered by another worker", event.ID)
	case err != nil:
		logger.Warn("idempotency unavailable, delivering without guard", "event_id", event.ID, "error", err)
	}
	defer func() {
		_ = p.idempotency.ReleaseLock(ctx, procCtx)
	}()

	if err := p.deliver(ctx, event, queueMessage.Data); err != nil {
		prom.IncRelayDelivery(string(event.Type), "failed")
		logger.Warn("event delivery failed",
			"event_id", event.ID,
			"type", event.Type,
			"order_id", event.OrderID,
			"attempt", queueMessage.Attempts,
			"error", err)
		return err
	}

	if procCtx != nil {
		if err := p.idempotency.MarkSuccess(ctx, procCtx); err != nil {
			logger.Error("failed to mark event delivered", "event_id", event.ID, "error", err)
		}
	}

	prom.IncRelayDelivery(string(event.Type), "delivered")
	logger.Info("event delivered", "event_id", event.ID, "type", event.Type, "order_id", event.OrderID, "company_id", event.CompanyID)
	return nil
}

func (p *EventProcessor) deliver(ctx context.Context, event model.PaymentEvent, body []byte) error {
	if p.config.URL == "" {
		logger.Info("notification hook not configured, event logged only", "event_id", event.ID, "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.config.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Event-Id", event.ID)
	req.Header.Set("X-Event-Type", string(event.Type))
	req.SetBody(body)

	deadline := time.Now().Add(p.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("%w: status %d", ErrHookRejected, code)
	}
	return nil
}
