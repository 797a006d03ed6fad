package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		purchases := core.NewBaseCollection("purchases")
		purchases.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "buyer_id"},
			&core.EmailField{Name: "buyer_email"},
			&core.NumberField{Name: "base_amount"},
			&core.NumberField{Name: "commission_amount"},
			&core.NumberField{Name: "total_amount"},
			&core.SelectField{
				Name:      "payment_status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "completed", "failed", "refunded"},
			},
			&core.TextField{Name: "payment_provider_id"},
			&core.JSONField{Name: "payment_provider_data", MaxSize: 1 << 20},
			&core.NumberField{Name: "provider_fee"},
			&core.NumberField{Name: "fee_tax"},
			&core.NumberField{Name: "withholding"},
			&core.NumberField{Name: "operating_costs"},
			&core.NumberField{Name: "net_amount"},
			&core.NumberField{Name: "net_margin"},
			&core.DateField{Name: "money_release_date"},
			&core.TextField{Name: "settlement_status"},
		)
		purchases.Fields.Add(timestamps()...)
		purchases.AddIndex("idx_purchases_status_created", false, "payment_status, created", "")
		purchases.AddIndex("idx_purchases_buyer", false, "buyer_id", "")
		if err := app.Save(purchases); err != nil {
			return err
		}

		selections := core.NewBaseCollection("purchase_selections")
		selections.Fields.Add(
			&core.TextField{Name: "purchase_id", Required: true},
			&core.JSONField{Name: "items", Required: true},
		)
		selections.Fields.Add(timestamps()...)
		selections.AddIndex("idx_purchase_selections_purchase", true, "purchase_id", "")

		return app.Save(selections)
	}, func(app core.App) error {
		if err := dropCollection(app, "purchase_selections"); err != nil {
			return err
		}
		return dropCollection(app, "purchases")
	})
}
