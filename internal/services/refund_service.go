package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-reconciler/internal/locks"
	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/services/provider"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
)

type RefundPreview struct {
	Refund *models.Refund      `json:"refund"`
	Quote  pricing.RefundQuote `json:"quote"`
}

// RefundService prices and executes refund requests raised by admins.
type RefundService struct {
	store    store.Store
	provider provider.Provider
	locker   locks.Locker
	now      func() time.Time
}

func NewRefundService(s store.Store, p provider.Provider, l locks.Locker) *RefundService {
	if l == nil {
		l = locks.NewLocalLocker()
	}
	return &RefundService{store: s, provider: p, locker: l, now: time.Now}
}

// refundContext is everything needed to price one refund request.
type refundContext struct {
	refund   *models.Refund
	purchase *models.Purchase
	targets  []string
	quote    pricing.RefundQuote
}

func (s *RefundService) Preview(ctx context.Context, refundID string) (*RefundPreview, error) {
	rc, err := s.load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	return &RefundPreview{Refund: rc.refund, Quote: rc.quote}, nil
}

// Approve refunds the quoted amount through the provider and marks the
// affected tickets refunded.
func (s *RefundService) Approve(ctx context.Context, refundID string) (*models.Refund, error) {
	refund, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("approve refund %s: %w", refundID, err)
	}

	release, err := s.locker.Acquire(ctx, "purchase:"+refund.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("approve refund %s: %w", refundID, err)
	}
	defer release()

	rc, err := s.load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if rc.refund.Status != models.RefundPending {
		return nil, fmt.Errorf("approve refund %s: refund is %s: %w", refundID, rc.refund.Status, status.ErrInvalidState)
	}
	if rc.purchase.PaymentStatus != models.PaymentCompleted {
		return nil, fmt.Errorf("approve refund %s: purchase is %s: %w", refundID, rc.purchase.PaymentStatus, status.ErrInvalidState)
	}
	if !rc.quote.Eligible || !rc.quote.Amount.IsPositive() {
		return nil, fmt.Errorf("approve refund %s: %s: %w", refundID, rc.quote.Reason, status.ErrNotEligible)
	}
	if rc.purchase.PaymentProviderID == "" {
		return nil, fmt.Errorf("approve refund %s: purchase has no provider payment: %w", refundID, status.ErrInvalidState)
	}

	pr, err := s.provider.RefundPayment(ctx, rc.purchase.PaymentProviderID, rc.quote.Amount, refundID)
	if err != nil {
		return nil, fmt.Errorf("approve refund %s: %w", refundID, err)
	}

	updated := *rc.refund
	updated.Status = models.RefundApproved
	updated.Amount = rc.quote.Amount
	updated.FeeRefunded = rc.quote.FeeIncluded
	updated.ProviderRefundID = pr.ID.String()

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateRefund(ctx, &updated); err != nil {
			return err
		}
		if len(rc.targets) == 0 {
			return nil
		}
		return tx.SetTicketStatus(ctx, rc.targets, models.TicketRefunded)
	})
	if err != nil {
		// The provider already moved the money. Retrying Approve reuses the
		// idempotency key, so the refund is not issued twice.
		slog.Error("refund: provider refund issued but local update failed",
			"refund_id", refundID,
			"provider_refund_id", pr.ID,
			"error", err,
		)
		return nil, fmt.Errorf("approve refund %s: %w", refundID, err)
	}

	slog.Info("refund approved",
		"refund_id", refundID,
		"purchase_id", rc.purchase.ID,
		"amount", updated.Amount.String(),
		"tickets", len(rc.targets),
		"provider_refund_id", pr.ID,
	)
	return &updated, nil
}

func (s *RefundService) Reject(ctx context.Context, refundID, note string) (*models.Refund, error) {
	refund, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("reject refund %s: %w", refundID, err)
	}
	if refund.Status != models.RefundPending {
		return nil, fmt.Errorf("reject refund %s: refund is %s: %w", refundID, refund.Status, status.ErrInvalidState)
	}

	refund.Status = models.RefundRejected
	if note != "" {
		refund.Note = note
	}
	if err := s.store.UpdateRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("reject refund %s: %w", refundID, err)
	}
	slog.Info("refund rejected", "refund_id", refundID, "purchase_id", refund.PurchaseID)
	return refund, nil
}

func (s *RefundService) load(ctx context.Context, refundID string) (*refundContext, error) {
	refund, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", refundID, err)
	}
	purchase, err := s.store.GetPurchase(ctx, refund.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("refund %s: purchase: %w", refundID, err)
	}
	event, err := s.store.GetEvent(ctx, purchase.EventID)
	if err != nil {
		return nil, fmt.Errorf("refund %s: event: %w", refundID, err)
	}
	tickets, err := s.store.ListTickets(ctx, purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("refund %s: tickets: %w", refundID, err)
	}

	total, commission := purchase.TotalAmount, purchase.CommissionAmount
	var targets []string

	if refund.TicketID != "" {
		var ticket *models.Ticket
		for i := range tickets {
			if tickets[i].ID == refund.TicketID {
				ticket = &tickets[i]
				break
			}
		}
		if ticket == nil {
			return nil, fmt.Errorf("refund %s: ticket %s: %w", refundID, refund.TicketID, status.ErrNotFound)
		}
		if ticket.Status != models.TicketValid {
			return nil, fmt.Errorf("refund %s: ticket %s is %s: %w", refundID, ticket.ID, ticket.Status, status.ErrInvalidState)
		}
		targets = []string{ticket.ID}
	} else {
		for _, t := range tickets {
			if t.Status == models.TicketValid {
				targets = append(targets, t.ID)
			}
		}
		if len(tickets) > 0 && len(targets) == 0 {
			return nil, fmt.Errorf("refund %s: no valid tickets left on purchase %s: %w", refundID, purchase.ID, status.ErrInvalidState)
		}
	}

	// Only the share of still valid tickets is refundable. A purchase that
	// never got its tickets refunds in full.
	if len(tickets) > 0 {
		total = shareOf(total, len(targets), len(tickets))
		commission = shareOf(commission, len(targets), len(tickets))
	}

	quote, err := pricing.RefundEligibility(pricing.RefundInput{
		Total:         total,
		Commission:    commission,
		PurchasedAt:   purchase.CreatedAt,
		EventStartsAt: event.StartsAt,
		Reason:        refund.Reason,
		Now:           s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", refundID, err)
	}

	return &refundContext{refund: refund, purchase: purchase, targets: targets, quote: quote}, nil
}

func shareOf(amount decimal.Decimal, k, n int) decimal.Decimal {
	if k == n {
		return amount
	}
	return amount.Mul(decimal.NewFromInt(int64(k))).Div(decimal.NewFromInt(int64(n))).Round(2)
}
