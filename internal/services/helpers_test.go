package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticket-reconciler/internal/locks"
	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/store/storetest"
	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetPayment(ctx context.Context, paymentID string) (*models.ProviderPayment, error) {
	args := m.Called(ctx, paymentID)
	if p, ok := args.Get(0).(*models.ProviderPayment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) SearchLatestPayment(ctx context.Context, externalReference string) (*models.ProviderPayment, error) {
	args := m.Called(ctx, externalReference)
	if p, ok := args.Get(0).(*models.ProviderPayment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (*models.ProviderRefund, error) {
	args := m.Called(ctx, paymentID, amount.String(), idempotencyKey)
	if r, ok := args.Get(0).(*models.ProviderRefund); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (n *recordingNotifier) PurchaseCompleted(ctx context.Context, p *models.Purchase, tickets []models.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, len(tickets))
	return n.err
}

func (n *recordingNotifier) Calls() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.calls...)
}

var purchasedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *storetest.Memory
	notifier *recordingNotifier
	rec      *Reconciler
}

// newFixture seeds event ev1 with ticket type tt1 (price 50, available
// quantity as given) and returns a reconciler over it.
func newFixture(t *testing.T, available int) *fixture {
	t.Helper()
	s := storetest.NewMemory()
	s.PutEvent(models.Event{ID: "ev1", Name: "Show", StartsAt: purchasedAt.Add(30 * 24 * time.Hour)})
	s.PutTicketType(models.TicketType{
		ID:                "tt1",
		EventID:           "ev1",
		Name:              "General",
		Price:             dec("50"),
		QuantityAvailable: available,
	})

	n := &recordingNotifier{}
	r := NewReconciler(ReconcilerConfig{
		Store:    s,
		Locker:   locks.NewLocalLocker(),
		Notifier: n,
	})
	return &fixture{store: s, notifier: n, rec: r}
}

func (f *fixture) addPending(id string, selection []models.TicketSelection) {
	f.store.PutPurchase(models.Purchase{
		ID:               id,
		EventID:          "ev1",
		BuyerID:          "buyer1",
		BuyerEmail:       "buyer@example.com",
		BaseAmount:       dec("100"),
		CommissionAmount: dec("10"),
		TotalAmount:      dec("110"),
		PaymentStatus:    models.PaymentPending,
		CreatedAt:        purchasedAt,
	}, selection)
}

func (f *fixture) purchase(t *testing.T, id string) *models.Purchase {
	t.Helper()
	p, err := f.store.GetPurchase(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) tickets(t *testing.T, id string) []models.Ticket {
	t.Helper()
	out, err := f.store.ListTickets(context.Background(), id)
	require.NoError(t, err)
	return out
}

func (f *fixture) sold(t *testing.T, ticketTypeID string) int {
	t.Helper()
	tt, err := f.store.GetTicketType(context.Background(), ticketTypeID)
	require.NoError(t, err)
	return tt.QuantitySold
}

func twoOfTT1() []models.TicketSelection {
	return []models.TicketSelection{{TicketTypeID: "tt1", Quantity: 2}}
}

func payment(id, providerStatus, purchaseID string) *models.ProviderPayment {
	return &models.ProviderPayment{
		ID:                models.PaymentID(id),
		Status:            providerStatus,
		ExternalReference: purchaseID,
		TransactionAmount: dec("110"),
	}
}

func policyDelay() time.Duration {
	return pricing.DefaultPolicy().PayoutDelay
}
