package model

import "time"

type PaymentEventType string

const (
	EventPaymentRequested PaymentEventType = "payment.requested"
	EventPaymentPending   PaymentEventType = "payment.pending"
	EventPaymentSettled   PaymentEventType = "payment.settled"
	EventPaymentFailed    PaymentEventType = "payment.failed"
	EventPaymentCancelled PaymentEventType = "payment.cancelled"
)

// PaymentEvent is published after a transaction changes state, for downstream
// email and chat notifications.
type PaymentEvent struct {
	ID         string            `json:"id"`
	Type       PaymentEventType  `json:"type"`
	OrderID    string            `json:"order_id"`
	CompanyID  string            `json:"company_id"`
	Kind       TransactionKind   `json:"kind"`
	Status     TransactionStatus `json:"status"`
	NetAmount  int64             `json:"net_amount"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func NewPaymentEvent(t PaymentEventType, txn *Transaction, at time.Time) PaymentEvent {
	return PaymentEvent{
		Type:       t,
		OrderID:    txn.OrderID,
		CompanyID:  txn.CompanyID,
		Kind:       txn.Kind,
		Status:     txn.Status,
		NetAmount:  txn.NetAmount,
		OccurredAt: at,
	}
}
