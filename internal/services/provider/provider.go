package provider

import (
	"context"

	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
)

// Provider is the payment provider API used for reconciliation and refunds.
type Provider interface {
	// GetPayment fetches a payment by its provider id.
	GetPayment(ctx context.Context, paymentID string) (*models.ProviderPayment, error)

	// SearchLatestPayment returns the most recently created payment carrying
	// externalReference, or status.ErrNotFound when there is none.
	SearchLatestPayment(ctx context.Context, externalReference string) (*models.ProviderPayment, error)

	// RefundPayment issues a (partial) refund. idempotencyKey makes retries safe.
	RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (*models.ProviderRefund, error)
}
