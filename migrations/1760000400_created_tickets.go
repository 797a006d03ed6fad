package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")
		collection.Fields.Add(
			&core.TextField{Name: "purchase_id", Required: true},
			&core.TextField{Name: "ticket_type_id", Required: true},
			&core.TextField{Name: "event_id"},
			&core.TextField{Name: "buyer_id"},
			&core.TextField{Name: "ticket_number", Required: true},
			&core.TextField{Name: "qr_code", Required: true},
			&core.TextField{Name: "qr_hash", Required: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"valid", "used", "cancelled", "refunded"},
			},
		)
		collection.Fields.Add(timestamps()...)
		collection.AddIndex("idx_tickets_purchase", false, "purchase_id", "")
		collection.AddIndex("idx_tickets_number", true, "ticket_number", "")
		collection.AddIndex("idx_tickets_qr_code", true, "qr_code", "")
		collection.AddIndex("idx_tickets_qr_hash", true, "qr_hash", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "tickets")
	})
}
