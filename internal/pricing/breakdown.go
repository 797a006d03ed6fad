package pricing

import (
	"time"

	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
)

const centPlaces = 2

// DefaultPayoutDelay is the holding period before producer proceeds are released.
const DefaultPayoutDelay = 240 * time.Hour

type Policy struct {
	// ServiceFeeRate is charged to the buyer on top of the base price.
	ServiceFeeRate decimal.Decimal
	// ProviderFeeRate is what the payment provider keeps of the charged total.
	ProviderFeeRate decimal.Decimal
	// FeeTaxRate is the tax applied to the provider fee.
	FeeTaxRate decimal.Decimal
	// WithholdingRate is the jurisdictional withholding on the charged total.
	WithholdingRate decimal.Decimal
	PayoutDelay     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ServiceFeeRate:  decimal.RequireFromString("0.10"),
		ProviderFeeRate: decimal.RequireFromString("0.0329"),
		FeeTaxRate:      decimal.RequireFromString("0.19"),
		WithholdingRate: decimal.RequireFromString("0.015"),
		PayoutDelay:     DefaultPayoutDelay,
	}
}

type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	if policy.PayoutDelay <= 0 {
		policy.PayoutDelay = DefaultPayoutDelay
	}
	return &Calculator{policy: policy}
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// ServiceFee is the commission added to the base price at checkout.
func (c *Calculator) ServiceFee(base decimal.Decimal) decimal.Decimal {
	return roundCents(base.Mul(c.policy.ServiceFeeRate))
}

func (c *Calculator) Total(base decimal.Decimal) decimal.Decimal {
	return roundCents(base).Add(c.ServiceFee(base))
}

// ReleaseDate is when the producer payout for a purchase made at ts becomes due.
func (c *Calculator) ReleaseDate(ts time.Time) time.Time {
	return ts.Add(c.policy.PayoutDelay).UTC()
}

// Breakdown derives the settlement figures for a purchase. Every component is
// rounded half-up to the cent before being used by the next one, so the
// result can be recomputed exactly from the same inputs.
func (c *Calculator) Breakdown(base decimal.Decimal, purchasedAt time.Time) models.Financials {
	serviceFee := c.ServiceFee(base)
	total := roundCents(base).Add(serviceFee)

	providerFee := roundCents(total.Mul(c.policy.ProviderFeeRate))
	feeTax := roundCents(providerFee.Mul(c.policy.FeeTaxRate))
	withholding := roundCents(total.Mul(c.policy.WithholdingRate))
	operating := providerFee.Add(feeTax).Add(withholding)

	return models.Financials{
		ServiceFee:       serviceFee,
		Total:            total,
		ProviderFee:      providerFee,
		FeeTax:           feeTax,
		Withholding:      withholding,
		OperatingCosts:   operating,
		NetAmount:        total.Sub(operating),
		NetMargin:        serviceFee.Sub(operating),
		MoneyReleaseDate: c.ReleaseDate(purchasedAt),
	}
}

// DetectDrift reports the difference between what we expect to receive and
// what the provider says it settled.
func DetectDrift(expected, reported decimal.Decimal) (decimal.Decimal, bool) {
	if reported.IsZero() {
		return decimal.Zero, false
	}
	diff := roundCents(reported).Sub(roundCents(expected))
	return diff, !diff.IsZero()
}

func roundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(centPlaces)
}
