package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/models"
	"ticket-reconciler/utils"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// PocketBase stores reconciliation state in the application's record
// collections.
type PocketBase struct {
	app core.App
}

func NewPocketBase(app core.App) *PocketBase {
	return &PocketBase{app: app}
}

func (s *PocketBase) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&PocketBase{app: txApp})
	})
}

func wrapFind(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	return fmt.Errorf("find %s %q: %w", kind, id, err)
}

func (s *PocketBase) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	rec, err := s.app.FindRecordById(CollectionEvents, id)
	if err != nil {
		return nil, wrapFind("event", id, err)
	}
	return &models.Event{
		ID:         rec.Id,
		Name:       rec.GetString("name"),
		ProducerID: rec.GetString("producer_id"),
		StartsAt:   rec.GetDateTime("starts_at").Time(),
	}, nil
}

func (s *PocketBase) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	rec, err := s.app.FindRecordById(CollectionTicketTypes, id)
	if err != nil {
		return nil, wrapFind("ticket type", id, err)
	}
	return ticketTypeFromRecord(rec), nil
}

func (s *PocketBase) AddTicketTypeSold(ctx context.Context, id string, delta int) error {
	res, err := s.app.DB().NewQuery(
		"UPDATE {{ticket_types}} SET [[quantity_sold]] = MAX(0, [[quantity_sold]] + {:delta}), [[updated]] = {:now} WHERE [[id]] = {:id}",
	).WithContext(ctx).Bind(dbx.Params{
		"delta": delta,
		"now":   types.NowDateTime().String(),
		"id":    id,
	}).Execute()
	if err != nil {
		return fmt.Errorf("update ticket type %q sold: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("ticket type", id)
	}
	return nil
}

func (s *PocketBase) CreatePurchase(ctx context.Context, p *models.Purchase, selection []models.TicketSelection) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		purchases, err := txApp.FindCollectionByNameOrId(CollectionPurchases)
		if err != nil {
			return fmt.Errorf("find collection %s: %w", CollectionPurchases, err)
		}

		rec := core.NewRecord(purchases)
		if p.ID != "" {
			rec.Id = p.ID
		}
		rec.Set("event_id", p.EventID)
		rec.Set("buyer_id", p.BuyerID)
		rec.Set("buyer_email", p.BuyerEmail)
		rec.Set("base_amount", p.BaseAmount.InexactFloat64())
		rec.Set("commission_amount", p.CommissionAmount.InexactFloat64())
		rec.Set("total_amount", p.TotalAmount.InexactFloat64())
		rec.Set("payment_status", string(p.PaymentStatus))
		if len(p.PaymentProviderData) > 0 {
			rec.Set("payment_provider_data", types.JSONRaw(p.PaymentProviderData))
		}
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("save purchase: %w", err)
		}

		selections, err := txApp.FindCollectionByNameOrId(CollectionSelections)
		if err != nil {
			return fmt.Errorf("find collection %s: %w", CollectionSelections, err)
		}
		sel := core.NewRecord(selections)
		sel.Set("purchase_id", rec.Id)
		sel.Set("items", selection)
		if err := txApp.SaveWithContext(ctx, sel); err != nil {
			return fmt.Errorf("save purchase selection: %w", err)
		}

		p.ID = rec.Id
		p.CreatedAt = rec.GetDateTime("created").Time()
		p.UpdatedAt = rec.GetDateTime("updated").Time()
		return nil
	})
}

func (s *PocketBase) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	rec, err := s.app.FindRecordById(CollectionPurchases, id)
	if err != nil {
		return nil, wrapFind("purchase", id, err)
	}
	return purchaseFromRecord(rec), nil
}

func (s *PocketBase) GetSelection(ctx context.Context, purchaseID string) ([]models.TicketSelection, error) {
	rec, err := s.app.FindFirstRecordByFilter(CollectionSelections, "purchase_id = {:pid}", dbx.Params{"pid": purchaseID})
	if err != nil {
		return nil, wrapFind("selection", purchaseID, err)
	}
	var items []models.TicketSelection
	if err := rec.UnmarshalJSONField("items", &items); err != nil {
		return nil, fmt.Errorf("decode selection %q: %w", purchaseID, err)
	}
	return items, nil
}

// TransitionPurchase is a compare-and-swap on payment_status. The affected
// row count tells the caller whether it won.
func (s *PocketBase) TransitionPurchase(ctx context.Context, id string, t Transition) (bool, error) {
	sets := []string{"[[payment_status]] = {:to}", "[[updated]] = {:now}"}
	params := dbx.Params{
		"id":   id,
		"from": string(t.From),
		"to":   string(t.To),
		"now":  types.NowDateTime().String(),
	}

	if t.PaymentProviderID != "" {
		sets = append(sets, "[[payment_provider_id]] = {:provider_id}")
		params["provider_id"] = t.PaymentProviderID
	}
	if t.PaymentProviderData != nil {
		sets = append(sets, "[[payment_provider_data]] = {:provider_data}")
		params["provider_data"] = string(t.PaymentProviderData)
	}
	if f := t.Financials; f != nil {
		release, err := types.ParseDateTime(f.MoneyReleaseDate)
		if err != nil {
			return false, fmt.Errorf("release date: %w", err)
		}
		for col, v := range map[string]decimal.Decimal{
			"provider_fee":    f.ProviderFee,
			"fee_tax":         f.FeeTax,
			"withholding":     f.Withholding,
			"operating_costs": f.OperatingCosts,
			"net_amount":      f.NetAmount,
			"net_margin":      f.NetMargin,
		} {
			sets = append(sets, "[["+col+"]] = {:"+col+"}")
			params[col] = v.InexactFloat64()
		}
		sets = append(sets, "[[money_release_date]] = {:money_release_date}")
		params["money_release_date"] = release.String()
	}
	if t.SettlementStatus != "" {
		sets = append(sets, "[[settlement_status]] = {:settlement_status}")
		params["settlement_status"] = t.SettlementStatus
	}

	res, err := s.app.DB().NewQuery(
		"UPDATE {{purchases}} SET " + strings.Join(sets, ", ") + " WHERE [[id]] = {:id} AND [[payment_status]] = {:from}",
	).WithContext(ctx).Bind(params).Execute()
	if err != nil {
		return false, fmt.Errorf("transition purchase %q: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition purchase %q: %w", id, err)
	}
	if n == 0 {
		if _, err := s.app.FindRecordById(CollectionPurchases, id); err != nil {
			return false, wrapFind("purchase", id, err)
		}
	}
	return n == 1, nil
}

func (s *PocketBase) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Purchase, error) {
	before, err := types.ParseDateTime(olderThan)
	if err != nil {
		return nil, err
	}
	recs, err := s.app.FindRecordsByFilter(
		CollectionPurchases,
		"payment_status = 'pending' && created < {:before}",
		"created",
		limit,
		0,
		dbx.Params{"before": before.String()},
	)
	if err != nil {
		return nil, fmt.Errorf("list stale purchases: %w", err)
	}

	out := make([]*models.Purchase, 0, len(recs))
	for _, rec := range recs {
		out = append(out, purchaseFromRecord(rec))
	}
	return out, nil
}

func (s *PocketBase) ListTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	recs, err := s.app.FindRecordsByFilter(CollectionTickets, "purchase_id = {:pid}", "ticket_number", 0, 0, dbx.Params{"pid": purchaseID})
	if err != nil {
		return nil, fmt.Errorf("list tickets %q: %w", purchaseID, err)
	}
	out := make([]models.Ticket, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ticketFromRecord(rec))
	}
	return out, nil
}

func (s *PocketBase) CountTickets(ctx context.Context, purchaseID string) (int, error) {
	n, err := s.app.CountRecords(CollectionTickets, dbx.HashExp{"purchase_id": purchaseID})
	if err != nil {
		return 0, fmt.Errorf("count tickets %q: %w", purchaseID, err)
	}
	return int(n), nil
}

func (s *PocketBase) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		coll, err := txApp.FindCollectionByNameOrId(CollectionTickets)
		if err != nil {
			return fmt.Errorf("find collection %s: %w", CollectionTickets, err)
		}
		for _, t := range tickets {
			rec := core.NewRecord(coll)
			rec.Id = t.ID
			rec.Set("purchase_id", t.PurchaseID)
			rec.Set("ticket_type_id", t.TicketTypeID)
			rec.Set("event_id", t.EventID)
			rec.Set("buyer_id", t.BuyerID)
			rec.Set("ticket_number", t.TicketNumber)
			rec.Set("qr_code", t.QRCode)
			rec.Set("qr_hash", t.QRHash)
			rec.Set("status", string(t.Status))
			if err := txApp.SaveWithContext(ctx, rec); err != nil {
				return fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
			}
		}
		return nil
	})
}

func (s *PocketBase) DeleteTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	var removed []models.Ticket
	err := s.app.RunInTransaction(func(txApp core.App) error {
		recs, err := txApp.FindRecordsByFilter(CollectionTickets, "purchase_id = {:pid}", "", 0, 0, dbx.Params{"pid": purchaseID})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := txApp.DeleteWithContext(ctx, rec); err != nil {
				return err
			}
			removed = append(removed, ticketFromRecord(rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete tickets %q: %w", purchaseID, err)
	}
	return removed, nil
}

func (s *PocketBase) SetTicketStatus(ctx context.Context, ticketIDs []string, st models.TicketStatus) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	ids := make([]any, len(ticketIDs))
	for i, id := range ticketIDs {
		ids[i] = id
	}
	res, err := s.app.DB().Update(
		CollectionTickets,
		dbx.Params{"status": string(st), "updated": types.NowDateTime().String()},
		dbx.In("id", ids...),
	).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(ticketIDs) {
		return fmt.Errorf("update ticket status: %d of %d tickets: %w", n, len(ticketIDs), status.ErrNotFound)
	}
	return nil
}

func (s *PocketBase) ClaimEffect(ctx context.Context, purchaseID string, effect Effect) (bool, error) {
	id, err := utils.GenerateID(utils.RecordIDLength)
	if err != nil {
		return false, err
	}
	res, err := s.app.DB().NewQuery(
		"INSERT OR IGNORE INTO {{reconciliation_markers}} ([[id]], [[purchase_id]], [[effect]], [[claimed_at]]) VALUES ({:id}, {:pid}, {:effect}, {:at})",
	).WithContext(ctx).Bind(dbx.Params{
		"id":     id,
		"pid":    purchaseID,
		"effect": string(effect),
		"at":     types.NowDateTime().String(),
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("claim %s for %q: %w", effect, purchaseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PocketBase) ReleaseEffect(ctx context.Context, purchaseID string, effect Effect) error {
	_, err := s.app.DB().Delete(CollectionMarkers, dbx.HashExp{
		"purchase_id": purchaseID,
		"effect":      string(effect),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("release %s for %q: %w", effect, purchaseID, err)
	}
	return nil
}

func (s *PocketBase) GetPayoutByPurchase(ctx context.Context, purchaseID string) (*models.Payout, error) {
	rec, err := s.app.FindFirstRecordByFilter(CollectionTransfers, "purchase_id = {:pid}", dbx.Params{"pid": purchaseID})
	if err != nil {
		return nil, wrapFind("payout for purchase", purchaseID, err)
	}
	return payoutFromRecord(rec), nil
}

func (s *PocketBase) InsertPayout(ctx context.Context, p *models.Payout) error {
	coll, err := s.app.FindCollectionByNameOrId(CollectionTransfers)
	if err != nil {
		return fmt.Errorf("find collection %s: %w", CollectionTransfers, err)
	}

	rec := core.NewRecord(coll)
	rec.Set("purchase_id", p.PurchaseID)
	rec.Set("event_id", p.EventID)
	rec.Set("amount", p.Amount.InexactFloat64())
	rec.Set("status", string(p.Status))
	rec.Set("scheduled_at", p.ScheduledAt)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		// The unique index on purchase_id rejected it.
		if _, ferr := s.GetPayoutByPurchase(ctx, p.PurchaseID); ferr == nil {
			return fmt.Errorf("payout for purchase %q: %w", p.PurchaseID, status.ErrDuplicate)
		}
		return fmt.Errorf("save payout: %w", err)
	}
	p.ID = rec.Id
	return nil
}

func (s *PocketBase) SetPayoutStatus(ctx context.Context, id string, st models.PayoutStatus) error {
	rec, err := s.app.FindRecordById(CollectionTransfers, id)
	if err != nil {
		return wrapFind("payout", id, err)
	}
	rec.Set("status", string(st))
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("save payout %q: %w", id, err)
	}
	return nil
}

func (s *PocketBase) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	rec, err := s.app.FindRecordById(CollectionRefunds, id)
	if err != nil {
		return nil, wrapFind("refund", id, err)
	}
	return refundFromRecord(rec), nil
}

func (s *PocketBase) UpdateRefund(ctx context.Context, r *models.Refund) error {
	rec, err := s.app.FindRecordById(CollectionRefunds, r.ID)
	if err != nil {
		return wrapFind("refund", r.ID, err)
	}
	rec.Set("status", string(r.Status))
	rec.Set("amount", r.Amount.InexactFloat64())
	rec.Set("fee_refunded", r.FeeRefunded)
	rec.Set("provider_refund_id", r.ProviderRefundID)
	rec.Set("note", r.Note)
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("save refund %q: %w", r.ID, err)
	}
	return nil
}

func money(rec *core.Record, field string) decimal.Decimal {
	return decimal.NewFromFloat(rec.GetFloat(field)).Round(centPlaces)
}

const centPlaces = 2

func jsonField(rec *core.Record, field string) json.RawMessage {
	switch v := rec.Get(field).(type) {
	case types.JSONRaw:
		if len(v) == 0 || string(v) == "null" {
			return nil
		}
		return json.RawMessage(v)
	case []byte:
		return json.RawMessage(v)
	case string:
		if v == "" {
			return nil
		}
		return json.RawMessage(v)
	}
	return nil
}

func ticketTypeFromRecord(rec *core.Record) *models.TicketType {
	return &models.TicketType{
		ID:                rec.Id,
		EventID:           rec.GetString("event_id"),
		Name:              rec.GetString("name"),
		Price:             money(rec, "price"),
		QuantityAvailable: rec.GetInt("quantity_available"),
		QuantitySold:      rec.GetInt("quantity_sold"),
	}
}

func purchaseFromRecord(rec *core.Record) *models.Purchase {
	p := &models.Purchase{
		ID:                  rec.Id,
		EventID:             rec.GetString("event_id"),
		BuyerID:             rec.GetString("buyer_id"),
		BuyerEmail:          rec.GetString("buyer_email"),
		BaseAmount:          money(rec, "base_amount"),
		CommissionAmount:    money(rec, "commission_amount"),
		TotalAmount:         money(rec, "total_amount"),
		PaymentStatus:       models.PaymentStatus(rec.GetString("payment_status")),
		PaymentProviderID:   rec.GetString("payment_provider_id"),
		PaymentProviderData: jsonField(rec, "payment_provider_data"),
		SettlementStatus:    rec.GetString("settlement_status"),
		CreatedAt:           rec.GetDateTime("created").Time(),
		UpdatedAt:           rec.GetDateTime("updated").Time(),
	}

	if release := rec.GetDateTime("money_release_date"); !release.IsZero() {
		p.Financials = &models.Financials{
			ServiceFee:       p.CommissionAmount,
			Total:            p.TotalAmount,
			ProviderFee:      money(rec, "provider_fee"),
			FeeTax:           money(rec, "fee_tax"),
			Withholding:      money(rec, "withholding"),
			OperatingCosts:   money(rec, "operating_costs"),
			NetAmount:        money(rec, "net_amount"),
			NetMargin:        money(rec, "net_margin"),
			MoneyReleaseDate: release.Time(),
		}
	}
	return p
}

func ticketFromRecord(rec *core.Record) models.Ticket {
	return models.Ticket{
		ID:           rec.Id,
		PurchaseID:   rec.GetString("purchase_id"),
		TicketTypeID: rec.GetString("ticket_type_id"),
		EventID:      rec.GetString("event_id"),
		BuyerID:      rec.GetString("buyer_id"),
		TicketNumber: rec.GetString("ticket_number"),
		QRCode:       rec.GetString("qr_code"),
		QRHash:       rec.GetString("qr_hash"),
		Status:       models.TicketStatus(rec.GetString("status")),
		CreatedAt:    rec.GetDateTime("created").Time(),
	}
}

func payoutFromRecord(rec *core.Record) *models.Payout {
	return &models.Payout{
		ID:          rec.Id,
		PurchaseID:  rec.GetString("purchase_id"),
		EventID:     rec.GetString("event_id"),
		Amount:      money(rec, "amount"),
		Status:      models.PayoutStatus(rec.GetString("status")),
		ScheduledAt: rec.GetDateTime("scheduled_at").Time(),
	}
}

func refundFromRecord(rec *core.Record) *models.Refund {
	return &models.Refund{
		ID:               rec.Id,
		PurchaseID:       rec.GetString("purchase_id"),
		TicketID:         rec.GetString("ticket_id"),
		Reason:           models.RefundReason(rec.GetString("reason")),
		Status:           models.RefundStatus(rec.GetString("status")),
		Amount:           money(rec, "amount"),
		FeeRefunded:      rec.GetBool("fee_refunded"),
		ProviderRefundID: rec.GetString("provider_refund_id"),
		Note:             rec.GetString("note"),
		CreatedAt:        rec.GetDateTime("created").Time(),
	}
}
