package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("refunds")
		collection.Fields.Add(
			&core.TextField{Name: "purchase_id", Required: true},
			&core.TextField{Name: "ticket_id"},
			&core.SelectField{
				Name:      "reason",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"withdrawal", "event_cancelled", "date_changed", "venue_changed", "substantial_change"},
			},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "approved", "rejected"},
			},
			&core.NumberField{Name: "amount"},
			&core.BoolField{Name: "fee_refunded"},
			&core.TextField{Name: "provider_refund_id"},
			&core.TextField{Name: "note", Max: 1000},
		)
		collection.Fields.Add(timestamps()...)
		collection.AddIndex("idx_refunds_purchase", false, "purchase_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "refunds")
	})
}
