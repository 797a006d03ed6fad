package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	EventID string                   `json:"eventId"`
	Items   []models.TicketSelection `json:"items"`
}

// CheckoutService opens pending purchases. Inventory is only checked here;
// it is allocated when the payment completes.
type CheckoutService struct {
	store store.Store
	calc  *pricing.Calculator
}

func NewCheckoutService(s store.Store, calc *pricing.Calculator) *CheckoutService {
	if calc == nil {
		calc = pricing.NewCalculator(pricing.DefaultPolicy())
	}
	return &CheckoutService{store: s, calc: calc}
}

func (c *CheckoutService) CreatePending(ctx context.Context, buyerID, buyerEmail string, req CheckoutRequest) (*models.Purchase, error) {
	if req.EventID == "" {
		return nil, fmt.Errorf("checkout: missing eventId: %w", status.ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("checkout: %w", status.ErrEmptySelection)
	}
	if _, err := c.store.GetEvent(ctx, req.EventID); err != nil {
		return nil, fmt.Errorf("checkout: event %s: %w", req.EventID, err)
	}

	wanted := map[string]int{}
	base := decimal.Zero
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("checkout: ticket type %s: quantity %d: %w", item.TicketTypeID, item.Quantity, status.ErrInvalidRequest)
		}
		tt, err := c.store.GetTicketType(ctx, item.TicketTypeID)
		if err != nil {
			return nil, fmt.Errorf("checkout: ticket type %s: %w", item.TicketTypeID, err)
		}
		if tt.EventID != req.EventID {
			return nil, fmt.Errorf("checkout: ticket type %s belongs to another event: %w", tt.ID, status.ErrInvalidRequest)
		}
		wanted[tt.ID] += item.Quantity
		if tt.Remaining() < wanted[tt.ID] {
			return nil, fmt.Errorf("checkout: ticket type %s: %w", tt.ID, status.ErrInsufficientStock)
		}
		base = base.Add(tt.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	base = base.Round(2)

	blob, err := json.Marshal(map[string]any{"tickets_data": req.Items})
	if err != nil {
		return nil, fmt.Errorf("checkout: json.Marshal: %w", err)
	}

	p := &models.Purchase{
		EventID:             req.EventID,
		BuyerID:             buyerID,
		BuyerEmail:          buyerEmail,
		BaseAmount:          base,
		CommissionAmount:    c.calc.ServiceFee(base),
		TotalAmount:         c.calc.Total(base),
		PaymentStatus:       models.PaymentPending,
		PaymentProviderData: blob,
	}
	if err := c.store.CreatePurchase(ctx, p, req.Items); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	slog.Info("checkout: purchase created",
		"purchase_id", p.ID,
		"event_id", p.EventID,
		"buyer_id", buyerID,
		"total", p.TotalAmount.String(),
	)
	return p, nil
}
