package store

import (
	"context"
	"encoding/json"
	"time"

	"ticket-reconciler/models"
)

// Collection names as they exist in the record store.
const (
	CollectionEvents      = "events"
	CollectionTicketTypes = "ticket_types"
	CollectionPurchases   = "purchases"
	CollectionSelections  = "purchase_selections"
	CollectionTickets     = "tickets"
	CollectionTransfers   = "transfers"
	CollectionRefunds     = "refunds"
	CollectionMarkers     = "reconciliation_markers"
)

// Effect names a side effect that must happen at most once per purchase.
type Effect string

const EffectTickets Effect = "tickets"

// Transition is the set of fields written when a purchase changes status.
type Transition struct {
	From                models.PaymentStatus
	To                  models.PaymentStatus
	PaymentProviderID   string
	PaymentProviderData json.RawMessage
	// Financials and settlement are written only when set.
	Financials       *models.Financials
	SettlementStatus string
}

// Store is the persistence surface the reconciliation services depend on.
// Lookups of missing records return status.ErrNotFound.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	AddTicketTypeSold(ctx context.Context, id string, delta int) error

	CreatePurchase(ctx context.Context, p *models.Purchase, selection []models.TicketSelection) error
	GetPurchase(ctx context.Context, id string) (*models.Purchase, error)
	GetSelection(ctx context.Context, purchaseID string) ([]models.TicketSelection, error)
	// TransitionPurchase applies t only while the stored status still equals
	// t.From. It reports whether the row was updated.
	TransitionPurchase(ctx context.Context, id string, t Transition) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Purchase, error)

	ListTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error)
	CountTickets(ctx context.Context, purchaseID string) (int, error)
	InsertTickets(ctx context.Context, tickets []models.Ticket) error
	DeleteTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error)
	SetTicketStatus(ctx context.Context, ticketIDs []string, s models.TicketStatus) error

	// ClaimEffect records that effect is being performed for purchaseID. It
	// returns false when the effect was already claimed.
	ClaimEffect(ctx context.Context, purchaseID string, effect Effect) (bool, error)
	ReleaseEffect(ctx context.Context, purchaseID string, effect Effect) error

	GetPayoutByPurchase(ctx context.Context, purchaseID string) (*models.Payout, error)
	// InsertPayout returns status.ErrDuplicate when the purchase already has one.
	InsertPayout(ctx context.Context, p *models.Payout) error
	SetPayoutStatus(ctx context.Context, id string, s models.PayoutStatus) error

	GetRefund(ctx context.Context, id string) (*models.Refund, error)
	UpdateRefund(ctx context.Context, r *models.Refund) error

	// RunInTx runs fn against a store bound to a single transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
