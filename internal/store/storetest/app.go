package storetest

import (
	"testing"
	"time"

	"ticket-reconciler/internal/store"
	_ "ticket-reconciler/migrations"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// NewApp bootstraps a PocketBase app in a temporary data dir with every
// migration applied.
func NewApp(t testing.TB) core.App {
	t.Helper()

	app := core.NewBaseApp(core.BaseAppConfig{DataDir: t.TempDir()})
	if err := app.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := app.RunAllMigrations(); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() { _ = app.ResetBootstrapState() })
	return app
}

// SeedEvent creates an event record and returns its id.
func SeedEvent(t testing.TB, app core.App, name string, startsAt time.Time) string {
	t.Helper()
	return save(t, app, store.CollectionEvents, map[string]any{
		"name":      name,
		"starts_at": startsAt,
	})
}

// SeedTicketType creates a ticket type record and returns its id.
func SeedTicketType(t testing.TB, app core.App, eventID string, price decimal.Decimal, available, sold int) string {
	t.Helper()
	return save(t, app, store.CollectionTicketTypes, map[string]any{
		"event_id":           eventID,
		"name":               "General",
		"price":              price.InexactFloat64(),
		"quantity_available": available,
		"quantity_sold":      sold,
	})
}

func save(t testing.TB, app core.App, collection string, fields map[string]any) string {
	t.Helper()
	coll, err := app.FindCollectionByNameOrId(collection)
	if err != nil {
		t.Fatalf("find collection %s: %v", collection, err)
	}
	rec := core.NewRecord(coll)
	for k, v := range fields {
		rec.Set(k, v)
	}
	if err := app.Save(rec); err != nil {
		t.Fatalf("save %s: %v", collection, err)
	}
	return rec.Id
}
