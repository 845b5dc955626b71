// Package notify publishes payment events to the event stream consumed by the notifier.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/queue"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
)

type QueuePublisher struct {
	queue *queue.Queue
}

func NewQueuePublisher(q *queue.Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

// Publish appends ev to the stream. Failures are logged and never reach the caller,
// the ledger write that produced the event has already committed.
func (p *QueuePublisher) Publish(ctx context.Context, ev model.PaymentEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	id, err := p.queue.PublishJSON(context.WithoutCancel(ctx), ev, map[string]string{
		"type":     string(ev.Type),
		"order_id": ev.OrderID,
	})
	if err != nil {
		logger.Error("failed to publish payment event", "type", ev.Type, "order_id", ev.OrderID, "error", err)
		return
	}
	logger.Debug("payment event published", "type", ev.Type, "order_id", ev.OrderID, "stream_id", id)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, model.PaymentEvent) {}
