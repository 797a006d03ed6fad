package models

import (
	"time"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

type Ticket struct {
	ID           string       `json:"id"`
	PurchaseID   string       `json:"purchase_id"`
	TicketTypeID string       `json:"ticket_type_id"`
	EventID      string       `json:"event_id"`
	BuyerID      string       `json:"buyer_id"`
	TicketNumber string       `json:"ticket_number"`
	QRCode       string       `json:"qr_code"`
	QRHash       string       `json:"qr_hash"`
	Status       TicketStatus `json:"status"` // valid, used, cancelled, refunded
	CreatedAt    time.Time    `json:"created"`
}
