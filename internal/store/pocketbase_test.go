package store

import (
	"testing"
	"time"

	"ticket-reconciler/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchaseCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionPurchases)
	for _, name := range []string{"event_id", "buyer_id", "buyer_email", "payment_status", "payment_provider_id", "settlement_status"} {
		c.Fields.Add(&core.TextField{Name: name})
	}
	for _, name := range []string{"base_amount", "commission_amount", "total_amount", "provider_fee", "fee_tax", "withholding", "operating_costs", "net_amount", "net_margin"} {
		c.Fields.Add(&core.NumberField{Name: name})
	}
	c.Fields.Add(&core.JSONField{Name: "payment_provider_data"})
	c.Fields.Add(&core.DateField{Name: "money_release_date"})
	return c
}

func TestPurchaseFromRecord(t *testing.T) {
	release := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	rec := core.NewRecord(purchaseCollection())
	rec.Id = "p1"
	rec.Set("event_id", "ev1")
	rec.Set("buyer_id", "buyer1")
	rec.Set("payment_status", "completed")
	rec.Set("payment_provider_id", "123")
	rec.Set("base_amount", 100)
	rec.Set("commission_amount", 10)
	rec.Set("total_amount", 110)
	rec.Set("net_amount", 104.04)
	rec.Set("payment_provider_data", `{"tickets_data":[{"ticketTypeId":"tt1","quantity":2}]}`)
	dt, err := types.ParseDateTime(release)
	require.NoError(t, err)
	rec.Set("money_release_date", dt)

	p := purchaseFromRecord(rec)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, models.PaymentCompleted, p.PaymentStatus)
	assert.True(t, decimal.NewFromInt(110).Equal(p.TotalAmount))
	assert.Equal(t, []models.TicketSelection{{TicketTypeID: "tt1", Quantity: 2}}, p.LegacySelection())
	require.NotNil(t, p.Financials)
	assert.Equal(t, "104.04", p.Financials.NetAmount.StringFixed(2))
	assert.True(t, p.Financials.ServiceFee.Equal(p.CommissionAmount))
	assert.True(t, release.Equal(p.Financials.MoneyReleaseDate))
}

func TestPurchaseFromRecord_PendingHasNoFinancials(t *testing.T) {
	rec := core.NewRecord(purchaseCollection())
	rec.Id = "p2"
	rec.Set("payment_status", "pending")
	rec.Set("total_amount", 55.5)

	p := purchaseFromRecord(rec)

	assert.Nil(t, p.Financials)
	assert.Nil(t, p.PaymentProviderData)
	assert.Equal(t, "55.50", p.TotalAmount.StringFixed(2))
}

func TestMoney_RoundsToCents(t *testing.T) {
	c := core.NewBaseCollection(CollectionTransfers)
	c.Fields.Add(&core.NumberField{Name: "amount"})
	rec := core.NewRecord(c)
	rec.Set("amount", 0.1+0.2)

	assert.Equal(t, "0.3", money(rec, "amount").String())
}
