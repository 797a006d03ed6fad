package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("transfers")
		collection.Fields.Add(
			&core.TextField{Name: "purchase_id", Required: true},
			&core.TextField{Name: "event_id"},
			&core.NumberField{Name: "amount"},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "completed", "failed", "cancelled"},
			},
			&core.DateField{Name: "scheduled_at", Required: true},
		)
		collection.Fields.Add(timestamps()...)
		// At most one payout per purchase.
		collection.AddIndex("idx_transfers_purchase", true, "purchase_id", "")
		collection.AddIndex("idx_transfers_status_scheduled", false, "status, scheduled_at", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "transfers")
	})
}
