package services

import (
	"context"
	"errors"
	"fmt"

	"ticket-reconciler/internal/services/provider"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"

	"golang.org/x/sync/singleflight"
)

type PollResult struct {
	Success       bool                 `json:"success"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	Updated       bool                 `json:"updated"`
}

// PollEntry reconciles a purchase on demand by asking the provider for its
// latest payment.
type PollEntry struct {
	store      store.Store
	provider   provider.Provider
	reconciler *Reconciler
	group      singleflight.Group
}

func NewPollEntry(s store.Store, p provider.Provider, r *Reconciler) *PollEntry {
	return &PollEntry{store: s, provider: p, reconciler: r}
}

// Check polls on behalf of requesterID, who must own the purchase. An empty
// requesterID skips the ownership check.
func (p *PollEntry) Check(ctx context.Context, purchaseID, requesterID string) (*PollResult, error) {
	purchase, err := p.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", purchaseID, err)
	}
	if requesterID != "" && purchase.BuyerID != requesterID {
		return nil, fmt.Errorf("poll %s: %w", purchaseID, status.ErrForbidden)
	}
	return p.poll(ctx, purchase, SourcePoll)
}

// Force polls without an ownership check.
func (p *PollEntry) Force(ctx context.Context, purchaseID string) (*PollResult, error) {
	return p.force(ctx, purchaseID, SourceAdmin)
}

func (p *PollEntry) force(ctx context.Context, purchaseID string, source Source) (*PollResult, error) {
	purchase, err := p.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", purchaseID, err)
	}
	return p.poll(ctx, purchase, source)
}

func (p *PollEntry) poll(ctx context.Context, purchase *models.Purchase, source Source) (*PollResult, error) {
	v, err, _ := p.group.Do(purchase.ID, func() (any, error) {
		return p.fetchAndReconcile(ctx, purchase, source)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*PollResult)
	return &res, nil
}

func (p *PollEntry) fetchAndReconcile(ctx context.Context, purchase *models.Purchase, source Source) (*PollResult, error) {
	var (
		payment *models.ProviderPayment
		err     error
	)
	if purchase.PaymentProviderID != "" {
		payment, err = p.provider.GetPayment(ctx, purchase.PaymentProviderID)
	} else {
		payment, err = p.provider.SearchLatestPayment(ctx, purchase.ID)
	}
	if errors.Is(err, status.ErrNotFound) {
		return &PollResult{Success: true, PaymentStatus: purchase.PaymentStatus}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", purchase.ID, err)
	}

	out, err := p.reconciler.Reconcile(ctx, purchase.ID, payment, source)
	if err != nil {
		return nil, err
	}
	return &PollResult{Success: true, PaymentStatus: out.Status, Updated: out.Updated}, nil
}
