package services

import (
	"context"
	"testing"
	"time"

	"ticket-reconciler/internal/store/storetest"
	"ticket-reconciler/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayoutScheduler_EnsureScheduledOnce(t *testing.T) {
	s := storetest.NewMemory()
	ps := NewPayoutScheduler(s, 48*time.Hour)
	p := &models.Purchase{ID: "p1", EventID: "ev1", BaseAmount: dec("80"), CreatedAt: purchasedAt}
	ctx := context.Background()

	created, err := ps.EnsureScheduled(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ps.EnsureScheduled(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, s.PayoutCount("p1"))

	payout, err := s.GetPayoutByPurchase(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "80", payout.Amount.String())
	assert.Equal(t, purchasedAt.Add(48*time.Hour), payout.ScheduledAt)
}

func TestPayoutScheduler_ApplyStatus(t *testing.T) {
	cases := []struct {
		current  models.PayoutStatus
		observed models.PaymentStatus
		want     models.PayoutStatus
	}{
		{models.PayoutPending, models.PaymentFailed, models.PayoutFailed},
		{models.PayoutPending, models.PaymentRefunded, models.PayoutCancelled},
		{models.PayoutPending, models.PaymentPending, models.PayoutPending},
		{models.PayoutCompleted, models.PaymentFailed, models.PayoutCompleted},
		{models.PayoutCompleted, models.PaymentRefunded, models.PayoutCompleted},
		{models.PayoutFailed, models.PaymentCompleted, models.PayoutPending},
		{models.PayoutCancelled, models.PaymentCompleted, models.PayoutCancelled},
	}
	for _, c := range cases {
		s := storetest.NewMemory()
		s.PutPayout(models.Payout{ID: "po1", PurchaseID: "p1", Status: c.current})

		require.NoError(t, NewPayoutScheduler(s, 0).ApplyStatus(context.Background(), "p1", c.observed))

		payout, err := s.GetPayoutByPurchase(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, c.want, payout.Status, "%s + %s", c.current, c.observed)
	}
}

func TestPayoutScheduler_ApplyStatusWithoutPayout(t *testing.T) {
	s := storetest.NewMemory()
	assert.NoError(t, NewPayoutScheduler(s, 0).ApplyStatus(context.Background(), "p1", models.PaymentFailed))
	assert.Equal(t, 0, s.PayoutCount("p1"))
}
