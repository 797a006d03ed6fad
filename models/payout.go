package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
	PayoutCancelled PayoutStatus = "cancelled"
)

// Payout is a scheduled settlement to the producer, stored as a transfer.
type Payout struct {
	ID          string          `json:"id"`
	PurchaseID  string          `json:"purchase_id"`
	EventID     string          `json:"event_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PayoutStatus    `json:"status"`
	ScheduledAt time.Time       `json:"scheduled_at"`
}
