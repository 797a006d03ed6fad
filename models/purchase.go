package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

const SettlementReady = "ready"

// TicketSelection is one line of what the buyer picked at checkout.
type TicketSelection struct {
	TicketTypeID string `json:"ticketTypeId"`
	Quantity     int    `json:"quantity"`
}

type Purchase struct {
	ID                  string          `json:"id"`
	EventID             string          `json:"event_id"`
	BuyerID             string          `json:"buyer_id"`
	BuyerEmail          string          `json:"buyer_email"`
	BaseAmount          decimal.Decimal `json:"base_amount"`
	CommissionAmount    decimal.Decimal `json:"commission_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	PaymentProviderID   string          `json:"payment_provider_id,omitempty"`
	PaymentProviderData json.RawMessage `json:"payment_provider_data,omitempty"`
	Financials          *Financials     `json:"financials,omitempty"`
	SettlementStatus    string          `json:"settlement_status,omitempty"`
	CreatedAt           time.Time       `json:"created"`
	UpdatedAt           time.Time       `json:"updated"`
}

// Financials is the settlement breakdown persisted on completion.
type Financials struct {
	ServiceFee       decimal.Decimal `json:"service_fee"`
	Total            decimal.Decimal `json:"total"`
	ProviderFee      decimal.Decimal `json:"provider_fee"`
	FeeTax           decimal.Decimal `json:"fee_tax"`
	Withholding      decimal.Decimal `json:"withholding"`
	OperatingCosts   decimal.Decimal `json:"operating_costs"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	NetMargin        decimal.Decimal `json:"net_margin"`
	MoneyReleaseDate time.Time       `json:"money_release_date"`
}

// LegacySelection reads the tickets_data array older checkouts embedded in
// the provider blob.
func (p *Purchase) LegacySelection() []TicketSelection {
	if len(p.PaymentProviderData) == 0 {
		return nil
	}
	var blob struct {
		TicketsData []TicketSelection `json:"tickets_data"`
	}
	if err := json.Unmarshal(p.PaymentProviderData, &blob); err != nil {
		return nil
	}
	return blob.TicketsData
}

// MergeProviderData returns the provider payment blob with tickets_data
// carried over from the current blob.
func MergeProviderData(current json.RawMessage, payment json.RawMessage, selection []TicketSelection) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if len(payment) > 0 {
		if err := json.Unmarshal(payment, &merged); err != nil {
			return nil, err
		}
	}
	delete(merged, "tickets_data")

	if prev := (&Purchase{PaymentProviderData: current}).LegacySelection(); len(prev) > 0 {
		selection = prev
	}
	if len(selection) > 0 {
		raw, err := json.Marshal(selection)
		if err != nil {
			return nil, err
		}
		merged["tickets_data"] = raw
	}

	return json.Marshal(merged)
}
