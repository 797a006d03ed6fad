package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"
	"ticket-reconciler/monitoring"
)

// PayoutScheduler keeps exactly one transfer per completed purchase.
type PayoutScheduler struct {
	store store.Store
	delay time.Duration
}

func NewPayoutScheduler(s store.Store, delay time.Duration) *PayoutScheduler {
	if delay <= 0 {
		delay = pricing.DefaultPayoutDelay
	}
	return &PayoutScheduler{store: s, delay: delay}
}

// EnsureScheduled creates the pending payout for purchase unless one exists.
func (p *PayoutScheduler) EnsureScheduled(ctx context.Context, purchase *models.Purchase) (bool, error) {
	_, err := p.store.GetPayoutByPurchase(ctx, purchase.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, status.ErrNotFound) {
		return false, fmt.Errorf("find payout: %w", err)
	}

	payout := &models.Payout{
		PurchaseID:  purchase.ID,
		EventID:     purchase.EventID,
		Amount:      purchase.BaseAmount,
		Status:      models.PayoutPending,
		ScheduledAt: purchase.CreatedAt.Add(p.delay).UTC(),
	}
	if err := p.store.InsertPayout(ctx, payout); err != nil {
		if errors.Is(err, status.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("insert payout: %w", err)
	}

	monitoring.TrackPayout("scheduled")
	slog.Info("payout scheduled",
		"purchase_id", purchase.ID,
		"payout_id", payout.ID,
		"amount", payout.Amount.String(),
		"scheduled_at", payout.ScheduledAt,
	)
	return true, nil
}

// ApplyStatus moves an existing payout along with the purchase status.
// Completed payouts are never touched.
func (p *PayoutScheduler) ApplyStatus(ctx context.Context, purchaseID string, observed models.PaymentStatus) error {
	var target models.PayoutStatus
	switch observed {
	case models.PaymentCompleted:
		target = models.PayoutPending
	case models.PaymentFailed:
		target = models.PayoutFailed
	case models.PaymentRefunded:
		target = models.PayoutCancelled
	default:
		return nil
	}

	payout, err := p.store.GetPayoutByPurchase(ctx, purchaseID)
	if errors.Is(err, status.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find payout: %w", err)
	}
	if payout.Status == target || payout.Status == models.PayoutCompleted {
		return nil
	}
	// A payout is only reopened when it failed along with its purchase.
	if target == models.PayoutPending && payout.Status != models.PayoutFailed {
		return nil
	}

	if err := p.store.SetPayoutStatus(ctx, payout.ID, target); err != nil {
		return fmt.Errorf("update payout %s: %w", payout.ID, err)
	}

	monitoring.TrackPayout(string(target))
	slog.Info("payout status updated", "purchase_id", purchaseID, "payout_id", payout.ID, "from", payout.Status, "to", target)
	return nil
}
