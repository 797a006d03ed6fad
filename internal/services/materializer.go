package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/internal/store"
	"ticket-reconciler/models"
	"ticket-reconciler/monitoring"
	"ticket-reconciler/utils"

	"github.com/google/uuid"
)

// Reasons a selection entry is skipped during materialization.
const (
	SkipTicketTypeMissing = "ticket_type_missing"
	SkipInsufficientStock = "insufficient_inventory"
	SkipInvalidQuantity   = "invalid_quantity"
)

type SkippedEntry struct {
	TicketTypeID string
	Quantity     int
	Reason       string
}

type MaterializeResult struct {
	Tickets []models.Ticket
	Skipped []SkippedEntry
	// AlreadyDone is set when tickets were created by an earlier run.
	AlreadyDone bool
}

// Materializer turns a completed purchase's selection into tickets, once.
type Materializer struct {
	store store.Store
	now   func() time.Time
}

func NewMaterializer(s store.Store) *Materializer {
	return &Materializer{store: s, now: time.Now}
}

func (m *Materializer) Materialize(ctx context.Context, purchase *models.Purchase) (*MaterializeResult, error) {
	existing, err := m.store.CountTickets(ctx, purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", purchase.ID, err)
	}
	if existing > 0 {
		return &MaterializeResult{AlreadyDone: true}, nil
	}

	selection, err := m.selection(ctx, purchase)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", purchase.ID, err)
	}
	if len(selection) == 0 {
		slog.Error("materializer: purchase has no ticket selection", "purchase_id", purchase.ID)
		return &MaterializeResult{}, nil
	}

	res := &MaterializeResult{}
	err = m.store.RunInTx(ctx, func(tx store.Store) error {
		claimed, err := tx.ClaimEffect(ctx, purchase.ID, store.EffectTickets)
		if err != nil {
			return err
		}
		if !claimed {
			res.AlreadyDone = true
			return nil
		}

		now := m.now().UTC()
		types := map[string]*models.TicketType{}
		remaining := map[string]int{}
		sold := map[string]int{}
		var touched []string
		var tickets []models.Ticket

		for _, entry := range selection {
			if entry.Quantity <= 0 {
				res.Skipped = append(res.Skipped, SkippedEntry{entry.TicketTypeID, entry.Quantity, SkipInvalidQuantity})
				continue
			}

			tt, ok := types[entry.TicketTypeID]
			if !ok {
				tt, err = tx.GetTicketType(ctx, entry.TicketTypeID)
				if errors.Is(err, status.ErrNotFound) {
					res.Skipped = append(res.Skipped, SkippedEntry{entry.TicketTypeID, entry.Quantity, SkipTicketTypeMissing})
					continue
				}
				if err != nil {
					return err
				}
				types[entry.TicketTypeID] = tt
				remaining[tt.ID] = tt.Remaining()
			}

			if remaining[tt.ID] < entry.Quantity {
				res.Skipped = append(res.Skipped, SkippedEntry{entry.TicketTypeID, entry.Quantity, SkipInsufficientStock})
				continue
			}

			for i := 0; i < entry.Quantity; i++ {
				t, err := newTicket(purchase, tt, len(tickets)+1, now)
				if err != nil {
					return err
				}
				tickets = append(tickets, t)
			}

			remaining[tt.ID] -= entry.Quantity
			if sold[tt.ID] == 0 {
				touched = append(touched, tt.ID)
			}
			sold[tt.ID] += entry.Quantity
		}

		if len(tickets) == 0 {
			return nil
		}
		if err := tx.InsertTickets(ctx, tickets); err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}
		for _, id := range touched {
			if err := tx.AddTicketTypeSold(ctx, id, sold[id]); err != nil {
				return fmt.Errorf("update sold count %s: %w", id, err)
			}
		}
		res.Tickets = tickets
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", purchase.ID, err)
	}

	for _, s := range res.Skipped {
		slog.Warn("materializer: skipped selection entry",
			"purchase_id", purchase.ID,
			"ticket_type_id", s.TicketTypeID,
			"quantity", s.Quantity,
			"reason", s.Reason,
		)
		monitoring.TrackInventoryShortfall(s.Reason)
	}
	if n := len(res.Tickets); n > 0 {
		monitoring.TrackTicketsMaterialized(n)
		slog.Info("materializer: tickets created", "purchase_id", purchase.ID, "count", n)
	}

	return res, nil
}

func (m *Materializer) selection(ctx context.Context, purchase *models.Purchase) ([]models.TicketSelection, error) {
	sel, err := m.store.GetSelection(ctx, purchase.ID)
	if errors.Is(err, status.ErrNotFound) {
		return purchase.LegacySelection(), nil
	}
	return sel, err
}

func newTicket(purchase *models.Purchase, tt *models.TicketType, seq int, now time.Time) (models.Ticket, error) {
	id, err := utils.GenerateID(utils.RecordIDLength)
	if err != nil {
		return models.Ticket{}, err
	}
	suffix, err := utils.GenerateCode(2)
	if err != nil {
		return models.Ticket{}, err
	}

	eventID := tt.EventID
	if eventID == "" {
		eventID = purchase.EventID
	}

	qrCode := "QR-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sum := sha256.Sum256([]byte(id + qrCode + strconv.FormatInt(now.UnixNano(), 10)))

	return models.Ticket{
		ID:           id,
		PurchaseID:   purchase.ID,
		TicketTypeID: tt.ID,
		EventID:      eventID,
		BuyerID:      purchase.BuyerID,
		TicketNumber: fmt.Sprintf("TK-%s-%s-%03d-%s", strings.ToUpper(eventID), now.Format("20060102150405"), seq, suffix),
		QRCode:       qrCode,
		QRHash:       hex.EncodeToString(sum[:]),
		Status:       models.TicketValid,
		CreatedAt:    now,
	}, nil
}
