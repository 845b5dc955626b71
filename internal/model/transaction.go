package model

import (
	"time"
)

type TransactionStatus string

const (
	TransactionStatusUnpaid    TransactionStatus = "unpaid"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusFailed    TransactionStatus = "failed"
)

type TransactionKind string

const (
	TransactionKindInvoice      TransactionKind = "invoice"
	TransactionKindSubscription TransactionKind = "subscription"
)

// allowedTransitions lists every legal status change. Terminal statuses have no entry.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusUnpaid:  {TransactionStatusPending, TransactionStatusCancelled, TransactionStatusFailed},
	TransactionStatusPending: {TransactionStatusPaid, TransactionStatusFailed, TransactionStatusCancelled},
}

func CanTransition(from, to TransactionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusPaid || s == TransactionStatusCancelled || s == TransactionStatusFailed
}

// IsOpen reports whether a transaction in this status blocks a new one for the same order.
func (s TransactionStatus) IsOpen() bool {
	return s == TransactionStatusUnpaid || s == TransactionStatusPending
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusUnpaid, TransactionStatusPending, TransactionStatusPaid, TransactionStatusCancelled, TransactionStatusFailed:
		return true
	}
	return false
}

func (k TransactionKind) Valid() bool {
	return k == TransactionKindInvoice || k == TransactionKindSubscription
}

// Transaction is one payment attempt against an invoice or a subscription plan change.
// OrderID is the invoice id or the subscription id.
type Transaction struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"`
	CompanyID     string            `json:"company_id"`
	Kind          TransactionKind   `json:"kind"`
	PlanID        *string           `json:"plan_id,omitempty"`
	NetAmount     int64             `json:"net_amount"`
	GrossAmount   *int64            `json:"gross_amount,omitempty"`
	Fee           *int64            `json:"fee,omitempty"`
	PaymentMethod *string           `json:"payment_method,omitempty"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ChargeUpdate carries the amounts recorded when the gateway accepts a charge.
type ChargeUpdate struct {
	GrossAmount   int64
	Fee           int64
	PaymentMethod string
}
