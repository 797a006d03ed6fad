package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundReason string

const (
	ReasonWithdrawal        RefundReason = "withdrawal"
	ReasonEventCancelled    RefundReason = "event_cancelled"
	ReasonDateChanged       RefundReason = "date_changed"
	ReasonVenueChanged      RefundReason = "venue_changed"
	ReasonSubstantialChange RefundReason = "substantial_change"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type Refund struct {
	ID               string          `json:"id"`
	PurchaseID       string          `json:"purchase_id"`
	TicketID         string          `json:"ticket_id,omitempty"` // empty means the whole purchase
	Reason           RefundReason    `json:"reason"`
	Status           RefundStatus    `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	FeeRefunded      bool            `json:"fee_refunded"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"created"`
}
