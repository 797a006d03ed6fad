package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-reconciler/internal/locks"
	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"
	"ticket-reconciler/monitoring"
)

// Source names what triggered a reconciliation.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceAdmin   Source = "admin"
	SourceSweeper Source = "sweeper"
)

// MapProviderStatus maps a provider payment status to the purchase status.
func MapProviderStatus(providerStatus string) models.PaymentStatus {
	switch providerStatus {
	case "approved":
		return models.PaymentCompleted
	case "rejected", "cancelled":
		return models.PaymentFailed
	case "refunded", "charged_back":
		return models.PaymentRefunded
	default:
		return models.PaymentPending
	}
}

// Notifier is told about purchases whose tickets were just issued.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, purchase *models.Purchase, tickets []models.Ticket) error
}

type nopNotifier struct{}

func (nopNotifier) PurchaseCompleted(context.Context, *models.Purchase, []models.Ticket) error {
	return nil
}

type Outcome struct {
	PurchaseID     string               `json:"purchase_id"`
	Previous       models.PaymentStatus `json:"previous_status"`
	Status         models.PaymentStatus `json:"status"`
	Updated        bool                 `json:"updated"`
	TicketsCreated int                  `json:"tickets_created"`
	PayoutCreated  bool                 `json:"payout_created"`
}

type ReconcilerConfig struct {
	Store         store.Store
	Locker        locks.Locker
	Calculator    *pricing.Calculator
	Materializer  *Materializer
	Payouts       *PayoutScheduler
	Notifier      Notifier
	NotifyTimeout time.Duration
}

// Reconciler applies provider payment observations to purchases.
type Reconciler struct {
	store         store.Store
	locker        locks.Locker
	calc          *pricing.Calculator
	tickets       *Materializer
	payouts       *PayoutScheduler
	notifier      Notifier
	notifyTimeout time.Duration

	inflight sync.WaitGroup
}

func NewReconciler(c ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		store:         c.Store,
		locker:        c.Locker,
		calc:          c.Calculator,
		tickets:       c.Materializer,
		payouts:       c.Payouts,
		notifier:      c.Notifier,
		notifyTimeout: c.NotifyTimeout,
	}
	if r.locker == nil {
		r.locker = locks.NewLocalLocker()
	}
	if r.calc == nil {
		r.calc = pricing.NewCalculator(pricing.DefaultPolicy())
	}
	if r.tickets == nil {
		r.tickets = NewMaterializer(c.Store)
	}
	if r.payouts == nil {
		r.payouts = NewPayoutScheduler(c.Store, r.calc.Policy().PayoutDelay)
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	if r.notifyTimeout <= 0 {
		r.notifyTimeout = 30 * time.Second
	}
	return r
}

// Reconcile brings purchaseID in line with the provider's view of payment.
// It is safe to call repeatedly and concurrently for the same purchase.
func (r *Reconciler) Reconcile(ctx context.Context, purchaseID string, payment *models.ProviderPayment, source Source) (*Outcome, error) {
	if payment == nil {
		return nil, fmt.Errorf("reconcile %s: %w: no payment", purchaseID, status.ErrInvalidRequest)
	}
	if payment.ExternalReference != purchaseID {
		slog.Error("reconciler: payment external reference does not match purchase, possible tampering",
			"purchase_id", purchaseID,
			"payment_id", payment.ID,
			"external_reference", payment.ExternalReference,
			"source", source,
		)
		monitoring.TrackReconciliation(string(source), "reference_mismatch")
		return nil, fmt.Errorf("reconcile %s: payment %s: %w", purchaseID, payment.ID, status.ErrReferenceMismatch)
	}

	release, err := r.locker.Acquire(ctx, "purchase:"+purchaseID)
	if err != nil {
		monitoring.TrackReconciliation(string(source), "lock_error")
		return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
	}
	defer release()

	out, err := r.reconcile(ctx, purchaseID, payment, source)
	if err != nil {
		outcome := "error"
		if errors.Is(err, status.ErrNotFound) {
			outcome = "not_found"
		}
		monitoring.TrackReconciliation(string(source), outcome)
		return nil, err
	}

	outcome := "noop"
	if out.Updated {
		outcome = "updated"
	} else if out.TicketsCreated > 0 {
		outcome = "repaired"
	}
	monitoring.TrackReconciliation(string(source), outcome)
	return out, nil
}

func (r *Reconciler) reconcile(ctx context.Context, purchaseID string, payment *models.ProviderPayment, source Source) (*Outcome, error) {
	purchase, err := r.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
	}

	observed := MapProviderStatus(payment.Status)
	out := &Outcome{
		PurchaseID: purchaseID,
		Previous:   purchase.PaymentStatus,
		Status:     purchase.PaymentStatus,
	}

	if observed != purchase.PaymentStatus {
		if reason, ok := acceptObservation(purchase, observed, payment); !ok {
			slog.Warn("reconciler: ignoring status observation",
				"purchase_id", purchaseID,
				"current", purchase.PaymentStatus,
				"observed", observed,
				"provider_status", payment.Status,
				"reason", reason,
				"source", source,
			)
		} else {
			won, err := r.transition(ctx, purchase, observed, payment)
			if err != nil {
				return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
			}

			// Reload either way: the winner's row carries the new blob and
			// financials, the loser needs whatever the winner wrote.
			if purchase, err = r.store.GetPurchase(ctx, purchaseID); err != nil {
				return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
			}
			out.Updated = won
			out.Status = purchase.PaymentStatus

			if won {
				monitoring.TrackTransition(string(out.Previous), string(observed))
				slog.Info("reconciler: purchase status changed",
					"purchase_id", purchaseID,
					"from", out.Previous,
					"to", observed,
					"payment_id", payment.ID,
					"source", source,
				)
			}
		}
	}

	if err := r.payouts.ApplyStatus(ctx, purchaseID, out.Status); err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
	}

	switch out.Status {
	case models.PaymentCompleted:
		if err := r.complete(ctx, purchase, out); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
		}
	case models.PaymentFailed:
		if err := r.cleanupFailed(ctx, purchaseID); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
		}
	case models.PaymentRefunded:
		if err := r.refundTickets(ctx, purchaseID); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", purchaseID, err)
		}
	}

	return out, nil
}

// acceptObservation applies allowTransition and, once a purchase completed,
// only lets the payment that completed it move it again.
func acceptObservation(purchase *models.Purchase, observed models.PaymentStatus, payment *models.ProviderPayment) (string, bool) {
	if reason, ok := allowTransition(purchase.PaymentStatus, observed); !ok {
		return reason, false
	}
	if purchase.PaymentStatus == models.PaymentCompleted &&
		purchase.PaymentProviderID != "" &&
		payment.ID.String() != purchase.PaymentProviderID {
		return "observation is for payment " + payment.ID.String() + ", purchase completed with " + purchase.PaymentProviderID, false
	}
	return "", true
}

// allowTransition rejects observations that would move a purchase backwards.
func allowTransition(from, to models.PaymentStatus) (string, bool) {
	switch {
	case to == models.PaymentPending:
		return "stale pending observation", false
	case from == models.PaymentRefunded:
		return "refunded is terminal", false
	case to == models.PaymentRefunded && from != models.PaymentCompleted:
		return "refund observed for a purchase that never completed", false
	}
	return "", true
}

func (r *Reconciler) transition(ctx context.Context, purchase *models.Purchase, to models.PaymentStatus, payment *models.ProviderPayment) (bool, error) {
	raw, err := payment.RawJSON()
	if err != nil {
		return false, fmt.Errorf("encode payment: %w", err)
	}

	selection, err := r.store.GetSelection(ctx, purchase.ID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return false, err
	}
	data, err := models.MergeProviderData(purchase.PaymentProviderData, raw, selection)
	if err != nil {
		return false, fmt.Errorf("merge provider data: %w", err)
	}

	t := store.Transition{
		From:                purchase.PaymentStatus,
		To:                  to,
		PaymentProviderID:   payment.ID.String(),
		PaymentProviderData: data,
	}

	if to == models.PaymentCompleted {
		f := r.calc.Breakdown(purchase.BaseAmount, purchase.CreatedAt)
		t.Financials = &f
		t.SettlementStatus = models.SettlementReady

		if diff, drift := pricing.DetectDrift(f.NetAmount, payment.TransactionDetails.NetReceivedAmount); drift {
			monitoring.TrackAmountDrift()
			slog.Warn("reconciler: provider net amount differs from computed breakdown",
				"purchase_id", purchase.ID,
				"payment_id", payment.ID,
				"computed", f.NetAmount.String(),
				"reported", payment.TransactionDetails.NetReceivedAmount.String(),
				"diff", diff.String(),
			)
		}
	}

	return r.store.TransitionPurchase(ctx, purchase.ID, t)
}

func (r *Reconciler) complete(ctx context.Context, purchase *models.Purchase, out *Outcome) error {
	res, err := r.tickets.Materialize(ctx, purchase)
	if err != nil {
		return err
	}
	out.TicketsCreated = len(res.Tickets)

	hasTickets := out.TicketsCreated > 0
	if !hasTickets {
		n, err := r.store.CountTickets(ctx, purchase.ID)
		if err != nil {
			return err
		}
		hasTickets = n > 0
	}

	if hasTickets {
		created, err := r.payouts.EnsureScheduled(ctx, purchase)
		if err != nil {
			return err
		}
		out.PayoutCreated = created
	}

	if out.TicketsCreated > 0 {
		r.dispatch(purchase, res.Tickets)
	}
	return nil
}

// cleanupFailed removes any tickets left on a failed purchase, returns
// their units to inventory and clears the ticket marker so a later approval
// can issue them again.
func (r *Reconciler) cleanupFailed(ctx context.Context, purchaseID string) error {
	var removed []models.Ticket
	err := r.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		if removed, err = tx.DeleteTickets(ctx, purchaseID); err != nil {
			return err
		}

		restock := map[string]int{}
		var order []string
		for _, t := range removed {
			if restock[t.TicketTypeID] == 0 {
				order = append(order, t.TicketTypeID)
			}
			restock[t.TicketTypeID]++
		}
		for _, id := range order {
			if err := tx.AddTicketTypeSold(ctx, id, -restock[id]); err != nil && !errors.Is(err, status.ErrNotFound) {
				return err
			}
		}

		return tx.ReleaseEffect(ctx, purchaseID, store.EffectTickets)
	})
	if err != nil {
		return fmt.Errorf("cleanup failed purchase: %w", err)
	}

	if len(removed) > 0 {
		slog.Warn("reconciler: deleted tickets of failed purchase", "purchase_id", purchaseID, "count", len(removed))
	}
	return nil
}

func (r *Reconciler) refundTickets(ctx context.Context, purchaseID string) error {
	tickets, err := r.store.ListTickets(ctx, purchaseID)
	if err != nil {
		return err
	}

	var ids []string
	for _, t := range tickets {
		if t.Status == models.TicketValid {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.store.SetTicketStatus(ctx, ids, models.TicketRefunded); err != nil {
		return fmt.Errorf("refund tickets: %w", err)
	}
	slog.Info("reconciler: tickets refunded by provider", "purchase_id", purchaseID, "count", len(ids))
	return nil
}

// dispatch notifies the buyer in the background. Failures are logged only.
func (r *Reconciler) dispatch(purchase *models.Purchase, tickets []models.Ticket) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("reconciler: notifier panicked", "purchase_id", purchase.ID, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()

		if err := r.notifier.PurchaseCompleted(ctx, purchase, tickets); err != nil {
			slog.Warn("reconciler: buyer notification failed", "purchase_id", purchase.ID, "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}
