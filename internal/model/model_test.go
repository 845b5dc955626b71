package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []TransactionStatus{
		TransactionStatusUnpaid, TransactionStatusPending, TransactionStatusPaid,
		TransactionStatusCancelled, TransactionStatusFailed,
	}
	allowed := map[[2]TransactionStatus]bool{
		{TransactionStatusUnpaid, TransactionStatusPending}:    true,
		{TransactionStatusUnpaid, TransactionStatusCancelled}:  true,
		{TransactionStatusUnpaid, TransactionStatusFailed}:     true,
		{TransactionStatusPending, TransactionStatusPaid}:      true,
		{TransactionStatusPending, TransactionStatusFailed}:    true,
		{TransactionStatusPending, TransactionStatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TransactionStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, s := range []TransactionStatus{TransactionStatusPaid, TransactionStatusCancelled, TransactionStatusFailed} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.IsOpen())
		assert.Empty(t, allowedTransitions[s])
	}
	assert.True(t, TransactionStatusUnpaid.IsOpen())
	assert.True(t, TransactionStatusPending.IsOpen())
}

func TestNotificationAction(t *testing.T) {
	cases := []struct {
		status, fraud string
		want          NotificationAction
	}{
		{"settlement", "accept", NotificationSettle},
		{"settlement", "", NotificationSettle},
		{"capture", "accept", NotificationSettle},
		{"capture", "challenge", NotificationIgnore},
		{"expire", "accept", NotificationVoid},
		{"cancel", "accept", NotificationVoid},
		{"pending", "accept", NotificationIgnore},
		{"deny", "deny", NotificationIgnore},
		{"refund", "accept", NotificationIgnore},
	}
	for _, c := range cases {
		n := Notification{TransactionStatus: c.status, FraudStatus: c.fraud}
		assert.Equal(t, c.want, n.Action(), "%s/%s", c.status, c.fraud)
	}
}

func TestNotification_DecodeKeepsNumericText(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"order_id":"inv-1","status_code":200,"gross_amount":50000.00}`), &n))
	assert.Equal(t, "200", n.StatusCode.String())
	assert.Equal(t, "50000.00", n.GrossAmount.String())

	require.NoError(t, json.Unmarshal([]byte(`{"status_code":"201","gross_amount":"10.50"}`), &n))
	assert.Equal(t, "201", n.StatusCode.String())
	assert.Equal(t, "10.50", n.GrossAmount.String())

	assert.Error(t, json.Unmarshal([]byte(`{"gross_amount":true}`), &n))
}

func TestNotification_MissingFields(t *testing.T) {
	n := Notification{OrderID: "x", StatusCode: "200"}
	assert.Equal(t, []string{"gross_amount", "signature_key", "transaction_status", "payment_type", "fraud_status"}, n.MissingFields())

	full := Notification{OrderID: "x", StatusCode: "200", GrossAmount: "1", SignatureKey: "s", TransactionStatus: "settlement", PaymentType: "bank_transfer", FraudStatus: "accept"}
	assert.Empty(t, full.MissingFields())
}

func TestChargeRequest_Validate(t *testing.T) {
	valid := ChargeRequest{
		PaymentType:        "bank_transfer",
		TransactionDetails: TransactionDetails{OrderID: "inv-1", GrossAmount: 51000},
		Amount:             &Amount{NetAmount: 50000, Fee: 1000},
		PaymentOptions:     json.RawMessage(`{"bank":"bca"}`),
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.PaymentType = " "
	bad.Amount = nil
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment_type")
	assert.Contains(t, err.Error(), "amount is required")

	bad = valid
	bad.Amount = &Amount{NetAmount: 10, Fee: -1}
	assert.ErrorContains(t, bad.Validate(), "fee")

	bad = valid
	bad.PaymentOptions = json.RawMessage(`{bank`)
	assert.ErrorContains(t, bad.Validate(), "payment_options")
}
