package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("events")
		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.TextField{Name: "producer_id"},
			&core.DateField{Name: "starts_at", Required: true},
		)
		collection.Fields.Add(timestamps()...)
		collection.AddIndex("idx_events_producer", false, "producer_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "events")
	})
}
