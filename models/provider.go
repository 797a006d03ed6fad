package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderPayment is the payment object returned by the provider API.
type ProviderPayment struct {
	ID                 PaymentID          `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	ExternalReference  string             `json:"external_reference"`
	TransactionAmount  decimal.Decimal    `json:"transaction_amount"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
	FeeDetails         []FeeDetail        `json:"fee_details"`
	DateCreated        *time.Time         `json:"date_created,omitempty"`
	DateApproved       *time.Time         `json:"date_approved,omitempty"`

	// Raw is the payment exactly as received.
	Raw json.RawMessage `json:"-"`
}

type TransactionDetails struct {
	NetReceivedAmount decimal.Decimal `json:"net_received_amount"`
	TotalPaidAmount   decimal.Decimal `json:"total_paid_amount"`
}

type FeeDetail struct {
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	FeePayer string          `json:"fee_payer"`
}

// RawJSON returns the payment as received, or its encoding when it was
// built locally.
func (p *ProviderPayment) RawJSON() (json.RawMessage, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(p)
}

// PaymentID accepts both numeric and string ids.
type PaymentID string

func (id *PaymentID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = PaymentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = PaymentID(n.String())
	return nil
}

func (id PaymentID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id PaymentID) String() string { return string(id) }

// ProviderRefund is the provider's answer to a refund request.
type ProviderRefund struct {
	ID     PaymentID       `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}
