package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlexString accepts a JSON string or a bare JSON number and keeps the exact text,
// so numeric fields hash the same way the gateway signed them.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Notification is the asynchronous status callback posted by the gateway.
type Notification struct {
	OrderID           string     `json:"order_id"`
	StatusCode        FlexString `json:"status_code"`
	GrossAmount       FlexString `json:"gross_amount"`
	SignatureKey      string     `json:"signature_key"`
	TransactionStatus string     `json:"transaction_status"`
	PaymentType       string     `json:"payment_type"`
	FraudStatus       string     `json:"fraud_status"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	TransactionTime   string     `json:"transaction_time,omitempty"`
}

// MissingFields names every required field that is empty.
func (n Notification) MissingFields() []string {
	var missing []string
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	check("order_id", n.OrderID)
	check("status_code", n.StatusCode.String())
	check("gross_amount", n.GrossAmount.String())
	check("signature_key", n.SignatureKey)
	check("transaction_status", n.TransactionStatus)
	check("payment_type", n.PaymentType)
	check("fraud_status", n.FraudStatus)
	return missing
}

type NotificationAction string

const (
	NotificationSettle NotificationAction = "settle"
	NotificationVoid   NotificationAction = "void"
	NotificationIgnore NotificationAction = "ignore"
)

func (n Notification) Action() NotificationAction {
	switch {
	case n.TransactionStatus == "settlement",
		n.TransactionStatus == "capture" && n.FraudStatus == "accept":
		return NotificationSettle
	case n.TransactionStatus == "expire", n.TransactionStatus == "cancel":
		return NotificationVoid
	}
	return NotificationIgnore
}

// Outcome of applying one notification, recorded in the audit log.
type NotificationOutcome string

const (
	OutcomeSettled          NotificationOutcome = "settled"
	OutcomeVoided           NotificationOutcome = "voided"
	OutcomeIgnored          NotificationOutcome = "ignored"
	OutcomeDuplicate        NotificationOutcome = "duplicate"
	OutcomeRejected         NotificationOutcome = "rejected"
	OutcomeInvalidSignature NotificationOutcome = "invalid_signature"
	OutcomeUnknownOrder     NotificationOutcome = "unknown_order"
	OutcomeConflict         NotificationOutcome = "conflict"
	OutcomeError            NotificationOutcome = "error"
)

// NotificationRecord is one row of the inbound notification audit log.
type NotificationRecord struct {
	ID                string              `json:"id"`
	OrderID           string              `json:"order_id"`
	TransactionStatus string              `json:"transaction_status"`
	StatusCode        string              `json:"status_code"`
	GrossAmount       string              `json:"gross_amount"`
	PaymentType       string              `json:"payment_type"`
	FraudStatus       string              `json:"fraud_status"`
	SignatureValid    bool                `json:"signature_valid"`
	Outcome           NotificationOutcome `json:"outcome"`
	Detail            string              `json:"detail,omitempty"`
	Payload           json.RawMessage     `json:"payload"`
	ReceivedAt        time.Time           `json:"received_at"`
}
