package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("ticket_types")
		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "name", Required: true, Max: 120},
			&core.NumberField{Name: "price", Min: floatPtr(0)},
			&core.NumberField{Name: "quantity_available", OnlyInt: true, Min: floatPtr(0)},
			&core.NumberField{Name: "quantity_sold", OnlyInt: true, Min: floatPtr(0)},
		)
		collection.Fields.Add(timestamps()...)
		collection.AddIndex("idx_ticket_types_event", false, "event_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "ticket_types")
	})
}

func floatPtr(v float64) *float64 { return &v }
