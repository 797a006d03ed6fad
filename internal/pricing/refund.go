package pricing

import (
	"fmt"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/models"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalWindow    = 10 * 24 * time.Hour
	WithdrawalMinNotice = 24 * time.Hour
)

type RefundInput struct {
	Total         decimal.Decimal
	Commission    decimal.Decimal
	PurchasedAt   time.Time
	EventStartsAt time.Time
	Reason        models.RefundReason
	Now           time.Time
}

type RefundQuote struct {
	Eligible    bool            `json:"eligible"`
	Amount      decimal.Decimal `json:"amount"`
	FeeIncluded bool            `json:"fee_included"`
	Reason      string          `json:"reason,omitempty"`
}

type refundRule struct {
	feeRefundable bool
	gated         bool
}

var refundRules = map[models.RefundReason]refundRule{
	models.ReasonWithdrawal:        {feeRefundable: true, gated: true},
	models.ReasonEventCancelled:    {feeRefundable: true},
	models.ReasonDateChanged:       {feeRefundable: false},
	models.ReasonVenueChanged:      {feeRefundable: false},
	models.ReasonSubstantialChange: {feeRefundable: true},
}

// RefundEligibility is the single source for refund amounts, both for
// previews and for the provider refund call.
func RefundEligibility(in RefundInput) (RefundQuote, error) {
	rule, ok := refundRules[in.Reason]
	if !ok {
		return RefundQuote{}, fmt.Errorf("%w: %q", status.ErrUnknownRefundReason, in.Reason)
	}

	if rule.gated {
		age := in.Now.Sub(in.PurchasedAt)
		notice := in.EventStartsAt.Sub(in.Now)

		var failed []string
		if age > WithdrawalWindow {
			failed = append(failed, fmt.Sprintf("purchase is %.1f days old, the withdrawal window is 10 days", age.Hours()/24))
		}
		if notice < WithdrawalMinNotice {
			failed = append(failed, fmt.Sprintf("event starts in %.1f hours, at least 24 hours notice is required", notice.Hours()))
		}
		if len(failed) > 0 {
			reason := failed[0]
			if len(failed) > 1 {
				reason = failed[0] + "; " + failed[1]
			}
			return RefundQuote{
				Eligible:    false,
				Amount:      decimal.Zero,
				FeeIncluded: rule.feeRefundable,
				Reason:      reason,
			}, nil
		}
	}

	amount := in.Total
	if !rule.feeRefundable {
		amount = in.Total.Sub(in.Commission)
	}

	return RefundQuote{
		Eligible:    true,
		Amount:      roundCents(amount),
		FeeIncluded: rule.feeRefundable,
	}, nil
}
