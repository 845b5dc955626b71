package model

import (
	"encoding/json"
	"errors"
	"strings"
)

type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type CustomerDetails struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Amount is the caller's breakdown of the gross amount.
type Amount struct {
	NetAmount int64 `json:"net_amount"`
	Fee       int64 `json:"fee"`
}

// ChargeRequest is the body of both pay endpoints.
type ChargeRequest struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
	CustomerDetails    *CustomerDetails   `json:"customer_details,omitempty"`
	Amount             *Amount            `json:"amount"`

	// PaymentOptions is forwarded to the gateway under the payment_type key,
	// e.g. {"bank":"bca"} for bank_transfer.
	PaymentOptions json.RawMessage `json:"payment_options,omitempty"`

	// CompanyID optionally pins a subscription charge to the paying company.
	CompanyID string `json:"company_id,omitempty"`
}

func (r ChargeRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.PaymentType) == "" {
		errs = append(errs, errors.New("payment_type is required"))
	}
	if strings.TrimSpace(r.TransactionDetails.OrderID) == "" {
		errs = append(errs, errors.New("transaction_details.order_id is required"))
	}
	if r.TransactionDetails.GrossAmount <= 0 {
		errs = append(errs, errors.New("transaction_details.gross_amount must be positive"))
	}
	if r.Amount == nil {
		errs = append(errs, errors.New("amount is required"))
	} else {
		if r.Amount.NetAmount <= 0 {
			errs = append(errs, errors.New("amount.net_amount must be positive"))
		}
		if r.Amount.Fee < 0 {
			errs = append(errs, errors.New("amount.fee must not be negative"))
		}
	}
	if len(r.PaymentOptions) > 0 && !json.Valid(r.PaymentOptions) {
		errs = append(errs, errors.New("payment_options must be valid JSON"))
	}
	return errors.Join(errs...)
}
