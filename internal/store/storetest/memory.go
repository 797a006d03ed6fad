package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"
	"ticket-reconciler/utils"
)

// Memory is a fake store.Store for tests. Transactions are serialized and
// applied atomically, which mirrors the single-writer behaviour of the
// SQLite store.
type Memory struct {
	mu   sync.Mutex
	data *memData

	// InsertTicketsErr makes InsertTickets fail, for exercising rollbacks.
	InsertTicketsErr error
}

type memData struct {
	events      map[string]models.Event
	ticketTypes map[string]models.TicketType
	purchases   map[string]models.Purchase
	selections  map[string][]models.TicketSelection
	tickets     map[string]models.Ticket
	payouts     map[string]models.Payout
	refunds     map[string]models.Refund
	markers     map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{data: &memData{
		events:      map[string]models.Event{},
		ticketTypes: map[string]models.TicketType{},
		purchases:   map[string]models.Purchase{},
		selections:  map[string][]models.TicketSelection{},
		tickets:     map[string]models.Ticket{},
		payouts:     map[string]models.Payout{},
		refunds:     map[string]models.Refund{},
		markers:     map[string]time.Time{},
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		events:      make(map[string]models.Event, len(d.events)),
		ticketTypes: make(map[string]models.TicketType, len(d.ticketTypes)),
		purchases:   make(map[string]models.Purchase, len(d.purchases)),
		selections:  make(map[string][]models.TicketSelection, len(d.selections)),
		tickets:     make(map[string]models.Ticket, len(d.tickets)),
		payouts:     make(map[string]models.Payout, len(d.payouts)),
		refunds:     make(map[string]models.Refund, len(d.refunds)),
		markers:     make(map[string]time.Time, len(d.markers)),
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range d.purchases {
		c.purchases[k] = v
	}
	for k, v := range d.selections {
		c.selections[k] = append([]models.TicketSelection(nil), v...)
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	for k, v := range d.payouts {
		c.payouts[k] = v
	}
	for k, v := range d.refunds {
		c.refunds[k] = v
	}
	for k, v := range d.markers {
		c.markers[k] = v
	}
	return c
}

// Seeding helpers.

func (m *Memory) PutEvent(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.events[e.ID] = e
}

func (m *Memory) PutTicketType(tt models.TicketType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.ticketTypes[tt.ID] = tt
}

func (m *Memory) PutPurchase(p models.Purchase, selection []models.TicketSelection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.data.purchases[p.ID] = p
	if selection != nil {
		m.data.selections[p.ID] = append([]models.TicketSelection(nil), selection...)
	}
}

func (m *Memory) PutTicket(t models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.tickets[t.ID] = t
}

func (m *Memory) PutRefund(r models.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.refunds[r.ID] = r
}

func (m *Memory) PutPayout(p models.Payout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.payouts[p.ID] = p
}

// PayoutCount returns how many payouts exist for a purchase.
func (m *Memory) PayoutCount(purchaseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.data.payouts {
		if p.PurchaseID == purchaseID {
			n++
		}
	}
	return n
}

func (m *Memory) view(fn func(d *memData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memTx{data: work, parent: m}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *Memory) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var out *models.Event
	err := m.view(func(d *memData) (err error) { out, err = d.getEvent(id); return })
	return out, err
}

func (m *Memory) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	var out *models.TicketType
	err := m.view(func(d *memData) (err error) { out, err = d.getTicketType(id); return })
	return out, err
}

func (m *Memory) AddTicketTypeSold(ctx context.Context, id string, delta int) error {
	return m.view(func(d *memData) error { return d.addTicketTypeSold(id, delta) })
}

func (m *Memory) CreatePurchase(ctx context.Context, p *models.Purchase, selection []models.TicketSelection) error {
	return m.view(func(d *memData) error { return d.createPurchase(p, selection) })
}

func (m *Memory) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	var out *models.Purchase
	err := m.view(func(d *memData) (err error) { out, err = d.getPurchase(id); return })
	return out, err
}

func (m *Memory) GetSelection(ctx context.Context, purchaseID string) ([]models.TicketSelection, error) {
	var out []models.TicketSelection
	err := m.view(func(d *memData) (err error) { out, err = d.getSelection(purchaseID); return })
	return out, err
}

func (m *Memory) TransitionPurchase(ctx context.Context, id string, t store.Transition) (bool, error) {
	var ok bool
	err := m.view(func(d *memData) (err error) { ok, err = d.transitionPurchase(id, t); return })
	return ok, err
}

func (m *Memory) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Purchase, error) {
	var out []*models.Purchase
	err := m.view(func(d *memData) error { out = d.listStalePending(olderThan, limit); return nil })
	return out, err
}

func (m *Memory) ListTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	var out []models.Ticket
	err := m.view(func(d *memData) error { out = d.listTickets(purchaseID); return nil })
	return out, err
}

func (m *Memory) CountTickets(ctx context.Context, purchaseID string) (int, error) {
	tickets, err := m.ListTickets(ctx, purchaseID)
	return len(tickets), err
}

func (m *Memory) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if m.InsertTicketsErr != nil {
		return m.InsertTicketsErr
	}
	return m.view(func(d *memData) error { return d.insertTickets(tickets) })
}

func (m *Memory) DeleteTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	var out []models.Ticket
	err := m.view(func(d *memData) error { out = d.deleteTickets(purchaseID); return nil })
	return out, err
}

func (m *Memory) SetTicketStatus(ctx context.Context, ticketIDs []string, s models.TicketStatus) error {
	return m.view(func(d *memData) error { return d.setTicketStatus(ticketIDs, s) })
}

func (m *Memory) ClaimEffect(ctx context.Context, purchaseID string, effect store.Effect) (bool, error) {
	var ok bool
	err := m.view(func(d *memData) error { ok = d.claimEffect(purchaseID, effect); return nil })
	return ok, err
}

func (m *Memory) ReleaseEffect(ctx context.Context, purchaseID string, effect store.Effect) error {
	return m.view(func(d *memData) error { delete(d.markers, markerKey(purchaseID, effect)); return nil })
}

func (m *Memory) GetPayoutByPurchase(ctx context.Context, purchaseID string) (*models.Payout, error) {
	var out *models.Payout
	err := m.view(func(d *memData) (err error) { out, err = d.getPayoutByPurchase(purchaseID); return })
	return out, err
}

func (m *Memory) InsertPayout(ctx context.Context, p *models.Payout) error {
	return m.view(func(d *memData) error { return d.insertPayout(p) })
}

func (m *Memory) SetPayoutStatus(ctx context.Context, id string, s models.PayoutStatus) error {
	return m.view(func(d *memData) error { return d.setPayoutStatus(id, s) })
}

func (m *Memory) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var out *models.Refund
	err := m.view(func(d *memData) (err error) { out, err = d.getRefund(id); return })
	return out, err
}

func (m *Memory) UpdateRefund(ctx context.Context, r *models.Refund) error {
	return m.view(func(d *memData) error { return d.updateRefund(r) })
}

// memTx is the Store handed to RunInTx callbacks. The parent lock is already
// held, so it works on the copy directly.
type memTx struct {
	data   *memData
	parent *Memory
}

func (tx *memTx) RunInTx(ctx context.Context, fn func(tx store.Store) error) error { return fn(tx) }

func (tx *memTx) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return tx.data.getEvent(id)
}

func (tx *memTx) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	return tx.data.getTicketType(id)
}

func (tx *memTx) AddTicketTypeSold(ctx context.Context, id string, delta int) error {
	return tx.data.addTicketTypeSold(id, delta)
}

func (tx *memTx) CreatePurchase(ctx context.Context, p *models.Purchase, selection []models.TicketSelection) error {
	return tx.data.createPurchase(p, selection)
}

func (tx *memTx) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	return tx.data.getPurchase(id)
}

func (tx *memTx) GetSelection(ctx context.Context, purchaseID string) ([]models.TicketSelection, error) {
	return tx.data.getSelection(purchaseID)
}

func (tx *memTx) TransitionPurchase(ctx context.Context, id string, t store.Transition) (bool, error) {
	return tx.data.transitionPurchase(id, t)
}

func (tx *memTx) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Purchase, error) {
	return tx.data.listStalePending(olderThan, limit), nil
}

func (tx *memTx) ListTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	return tx.data.listTickets(purchaseID), nil
}

func (tx *memTx) CountTickets(ctx context.Context, purchaseID string) (int, error) {
	return len(tx.data.listTickets(purchaseID)), nil
}

func (tx *memTx) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if tx.parent.InsertTicketsErr != nil {
		return tx.parent.InsertTicketsErr
	}
	return tx.data.insertTickets(tickets)
}

func (tx *memTx) DeleteTickets(ctx context.Context, purchaseID string) ([]models.Ticket, error) {
	return tx.data.deleteTickets(purchaseID), nil
}

func (tx *memTx) SetTicketStatus(ctx context.Context, ticketIDs []string, s models.TicketStatus) error {
	return tx.data.setTicketStatus(ticketIDs, s)
}

func (tx *memTx) ClaimEffect(ctx context.Context, purchaseID string, effect store.Effect) (bool, error) {
	return tx.data.claimEffect(purchaseID, effect), nil
}

func (tx *memTx) ReleaseEffect(ctx context.Context, purchaseID string, effect store.Effect) error {
	delete(tx.data.markers, markerKey(purchaseID, effect))
	return nil
}

func (tx *memTx) GetPayoutByPurchase(ctx context.Context, purchaseID string) (*models.Payout, error) {
	return tx.data.getPayoutByPurchase(purchaseID)
}

func (tx *memTx) InsertPayout(ctx context.Context, p *models.Payout) error {
	return tx.data.insertPayout(p)
}

func (tx *memTx) SetPayoutStatus(ctx context.Context, id string, s models.PayoutStatus) error {
	return tx.data.setPayoutStatus(id, s)
}

func (tx *memTx) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	return tx.data.getRefund(id)
}

func (tx *memTx) UpdateRefund(ctx context.Context, r *models.Refund) error {
	return tx.data.updateRefund(r)
}

func markerKey(purchaseID string, effect store.Effect) string {
	return purchaseID + "/" + string(effect)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, status.ErrNotFound)
}

func (d *memData) getEvent(id string) (*models.Event, error) {
	e, ok := d.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	return &e, nil
}

func (d *memData) getTicketType(id string) (*models.TicketType, error) {
	tt, ok := d.ticketTypes[id]
	if !ok {
		return nil, notFound("ticket type", id)
	}
	return &tt, nil
}

func (d *memData) addTicketTypeSold(id string, delta int) error {
	tt, ok := d.ticketTypes[id]
	if !ok {
		return notFound("ticket type", id)
	}
	tt.QuantitySold += delta
	if tt.QuantitySold < 0 {
		tt.QuantitySold = 0
	}
	d.ticketTypes[id] = tt
	return nil
}

func (d *memData) createPurchase(p *models.Purchase, selection []models.TicketSelection) error {
	if p.ID == "" {
		id, err := utils.GenerateID(utils.RecordIDLength)
		if err != nil {
			return err
		}
		p.ID = id
	}
	if _, ok := d.purchases[p.ID]; ok {
		return fmt.Errorf("purchase %q: %w", p.ID, status.ErrDuplicate)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	d.purchases[p.ID] = *p
	d.selections[p.ID] = append([]models.TicketSelection(nil), selection...)
	return nil
}

func (d *memData) getPurchase(id string) (*models.Purchase, error) {
	p, ok := d.purchases[id]
	if !ok {
		return nil, notFound("purchase", id)
	}
	p.PaymentProviderData = append(json.RawMessage(nil), p.PaymentProviderData...)
	return &p, nil
}

func (d *memData) getSelection(purchaseID string) ([]models.TicketSelection, error) {
	sel, ok := d.selections[purchaseID]
	if !ok {
		return nil, notFound("selection", purchaseID)
	}
	return append([]models.TicketSelection(nil), sel...), nil
}

func (d *memData) transitionPurchase(id string, t store.Transition) (bool, error) {
	p, ok := d.purchases[id]
	if !ok {
		return false, notFound("purchase", id)
	}
	if p.PaymentStatus != t.From {
		return false, nil
	}
	p.PaymentStatus = t.To
	if t.PaymentProviderID != "" {
		p.PaymentProviderID = t.PaymentProviderID
	}
	if t.PaymentProviderData != nil {
		p.PaymentProviderData = append(json.RawMessage(nil), t.PaymentProviderData...)
	}
	if t.Financials != nil {
		f := *t.Financials
		p.Financials = &f
	}
	if t.SettlementStatus != "" {
		p.SettlementStatus = t.SettlementStatus
	}
	p.UpdatedAt = time.Now().UTC()
	d.purchases[id] = p
	return true, nil
}

func (d *memData) listStalePending(olderThan time.Time, limit int) []*models.Purchase {
	var out []*models.Purchase
	for _, p := range d.purchases {
		if p.PaymentStatus == models.PaymentPending && p.CreatedAt.Before(olderThan) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (d *memData) listTickets(purchaseID string) []models.Ticket {
	var out []models.Ticket
	for _, t := range d.tickets {
		if t.PurchaseID == purchaseID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketNumber < out[j].TicketNumber })
	return out
}

func (d *memData) insertTickets(tickets []models.Ticket) error {
	seen := map[string]bool{}
	for _, t := range d.tickets {
		seen["n:"+t.TicketNumber] = true
		seen["q:"+t.QRCode] = true
	}
	for _, t := range tickets {
		if _, ok := d.tickets[t.ID]; ok || seen["n:"+t.TicketNumber] || seen["q:"+t.QRCode] {
			return fmt.Errorf("ticket %q: %w", t.ID, status.ErrDuplicate)
		}
		seen["n:"+t.TicketNumber] = true
		seen["q:"+t.QRCode] = true
	}
	for _, t := range tickets {
		d.tickets[t.ID] = t
	}
	return nil
}

func (d *memData) deleteTickets(purchaseID string) []models.Ticket {
	removed := d.listTickets(purchaseID)
	for _, t := range removed {
		delete(d.tickets, t.ID)
	}
	return removed
}

func (d *memData) setTicketStatus(ticketIDs []string, s models.TicketStatus) error {
	for _, id := range ticketIDs {
		t, ok := d.tickets[id]
		if !ok {
			return notFound("ticket", id)
		}
		t.Status = s
		d.tickets[id] = t
	}
	return nil
}

func (d *memData) claimEffect(purchaseID string, effect store.Effect) bool {
	key := markerKey(purchaseID, effect)
	if _, ok := d.markers[key]; ok {
		return false
	}
	d.markers[key] = time.Now().UTC()
	return true
}

func (d *memData) getPayoutByPurchase(purchaseID string) (*models.Payout, error) {
	for _, p := range d.payouts {
		if p.PurchaseID == purchaseID {
			return &p, nil
		}
	}
	return nil, notFound("payout for purchase", purchaseID)
}

func (d *memData) insertPayout(p *models.Payout) error {
	if _, err := d.getPayoutByPurchase(p.PurchaseID); err == nil {
		return fmt.Errorf("payout for purchase %q: %w", p.PurchaseID, status.ErrDuplicate)
	}
	if p.ID == "" {
		id, err := utils.GenerateID(utils.RecordIDLength)
		if err != nil {
			return err
		}
		p.ID = id
	}
	d.payouts[p.ID] = *p
	return nil
}

func (d *memData) setPayoutStatus(id string, s models.PayoutStatus) error {
	p, ok := d.payouts[id]
	if !ok {
		return notFound("payout", id)
	}
	p.Status = s
	d.payouts[id] = p
	return nil
}

func (d *memData) getRefund(id string) (*models.Refund, error) {
	r, ok := d.refunds[id]
	if !ok {
		return nil, notFound("refund", id)
	}
	return &r, nil
}

func (d *memData) updateRefund(r *models.Refund) error {
	if _, ok := d.refunds[r.ID]; !ok {
		return notFound("refund", r.ID)
	}
	d.refunds[r.ID] = *r
	return nil
}

var (
	_ store.Store = (*Memory)(nil)
	_ store.Store = (*memTx)(nil)
)
