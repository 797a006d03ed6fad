package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ProducerID string    `json:"producer_id"`
	StartsAt   time.Time `json:"starts_at"`
}

type TicketType struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available"`
	QuantitySold      int             `json:"quantity_sold"`
}

// Remaining is the number of units that can still be allocated.
func (t *TicketType) Remaining() int {
	return t.QuantityAvailable - t.QuantitySold
}
