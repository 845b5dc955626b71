package fixtures

import (
	"encoding/json"
	"strconv"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/signature"
)

const ServerKey = "SB-Mid-server-fixture"

// ChargeRequest builds a balanced bank transfer charge for orderID.
func ChargeRequest(orderID string, net, fee int64) model.ChargeRequest {
	return model.ChargeRequest{
		PaymentType:        "bank_transfer",
		TransactionDetails: model.TransactionDetails{OrderID: orderID, GrossAmount: net + fee},
		Amount:             &model.Amount{NetAmount: net, Fee: fee},
		PaymentOptions:     json.RawMessage(`{"bank":"bca"}`),
	}
}

// Notification is a signed gateway callback. grossAmount is the text the gateway
// signs, e.g. "51000.00".
func Notification(orderID, transactionStatus, fraudStatus, grossAmount string) model.Notification {
	statusCode := "200"
	switch transactionStatus {
	case "pending":
		statusCode = "201"
	case "expire", "cancel", "deny":
		statusCode = "202"
	}
	return model.Notification{
		OrderID:           orderID,
		StatusCode:        model.FlexString(statusCode),
		GrossAmount:       model.FlexString(grossAmount),
		SignatureKey:      signature.Sign(orderID, statusCode, grossAmount, ServerKey),
		TransactionStatus: transactionStatus,
		PaymentType:       "bank_transfer",
		FraudStatus:       fraudStatus,
		TransactionID:     "gw-" + orderID,
	}
}

func NotificationPayload(n model.Notification) []byte {
	b, _ := json.Marshal(n)
	return b
}

func Settlement(orderID string, gross int64) []byte {
	return NotificationPayload(Notification(orderID, "settlement", "accept", strconv.FormatInt(gross, 10)+".00"))
}

func Expiry(orderID string, gross int64) []byte {
	return NotificationPayload(Notification(orderID, "expire", "accept", strconv.FormatInt(gross, 10)+".00"))
}

var (
	// statuses that leave the ledger unchanged
	IgnoredStatuses = []string{"pending", "deny", "refund", "partial_refund", "authorize"}

	MissingFieldPayloads = map[string]string{
		"order_id":           `{"status_code":"200","gross_amount":"1.00","signature_key":"x","transaction_status":"settlement","payment_type":"qris","fraud_status":"accept"}`,
		"signature_key":      `{"order_id":"a","status_code":"200","gross_amount":"1.00","transaction_status":"settlement","payment_type":"qris","fraud_status":"accept"}`,
		"fraud_status":       `{"order_id":"a","status_code":"200","gross_amount":"1.00","signature_key":"x","transaction_status":"settlement","payment_type":"qris"}`,
		"transaction_status": `{"order_id":"a","status_code":"200","gross_amount":"1.00","signature_key":"x","payment_type":"qris","fraud_status":"accept"}`,
	}
)
