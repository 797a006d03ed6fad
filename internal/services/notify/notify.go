package notify

import (
	"context"

	"ticket-reconciler/models"

	"golang.org/x/sync/errgroup"
)

// Notifier tells a buyer their tickets were issued.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, purchase *models.Purchase, tickets []models.Ticket) error
}

// Fanout delivers to every notifier concurrently and returns the first error.
type Fanout []Notifier

func (f Fanout) PurchaseCompleted(ctx context.Context, purchase *models.Purchase, tickets []models.Ticket) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range f {
		n := n
		g.Go(func() error {
			return n.PurchaseCompleted(ctx, purchase, tickets)
		})
	}
	return g.Wait()
}
