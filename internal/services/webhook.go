package services

import (
	"context"
	"fmt"
	"log/slog"

	"ticket-reconciler/internal/services/provider"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/models"
)

// Notification is the provider's push body. Only type and data.id are read;
// the payment itself is always fetched from the provider.
type Notification struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID models.PaymentID `json:"id"`
	} `json:"data"`
}

type WebhookEntry struct {
	provider   provider.Provider
	reconciler *Reconciler
}

func NewWebhookEntry(p provider.Provider, r *Reconciler) *WebhookEntry {
	return &WebhookEntry{provider: p, reconciler: r}
}

// Handle reconciles the purchase referenced by a payment notification. A nil
// outcome with a nil error means the notification was acknowledged without
// action.
func (w *WebhookEntry) Handle(ctx context.Context, n Notification) (*Outcome, error) {
	if n.Type != "payment" {
		slog.Debug("webhook: ignoring notification", "type", n.Type, "action", n.Action)
		return nil, nil
	}
	if n.Data.ID == "" {
		return nil, fmt.Errorf("webhook: missing data.id: %w", status.ErrInvalidNotification)
	}

	payment, err := w.provider.GetPayment(ctx, n.Data.ID.String())
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	if payment.ExternalReference == "" {
		slog.Warn("webhook: payment has no external reference", "payment_id", payment.ID, "status", payment.Status)
		return nil, nil
	}

	return w.reconciler.Reconcile(ctx, payment.ExternalReference, payment, SourceWebhook)
}
