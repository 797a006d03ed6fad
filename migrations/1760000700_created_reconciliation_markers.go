package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("reconciliation_markers")
		collection.Fields.Add(
			&core.TextField{Name: "purchase_id", Required: true},
			&core.TextField{Name: "effect", Required: true},
			&core.DateField{Name: "claimed_at"},
		)
		collection.AddIndex("idx_markers_purchase_effect", true, "purchase_id, effect", "")

		return app.Save(collection)
	}, func(app core.App) error {
		return dropCollection(app, "reconciliation_markers")
	})
}
