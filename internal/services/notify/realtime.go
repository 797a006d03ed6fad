package notify

import (
	"context"
	"fmt"

	"ticket-reconciler/models"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher sends a message to a realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) Publisher {
	return &pubnubPublisher{pn: pn}
}

func (p *pubnubPublisher) Publish(ctx context.Context, channel string, message any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, st, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub.Publish: status %d: %w", st.StatusCode, err)
	}
	return nil
}

// Realtime pushes a purchase_completed message to the buyer's channel.
type Realtime struct {
	publisher Publisher
}

func NewRealtime(p Publisher) *Realtime {
	return &Realtime{publisher: p}
}

func UserChannel(buyerID string) string {
	return fmt.Sprintf("user-%s", buyerID)
}

func (r *Realtime) PurchaseCompleted(ctx context.Context, purchase *models.Purchase, tickets []models.Ticket) error {
	numbers := make([]string, 0, len(tickets))
	for _, t := range tickets {
		numbers = append(numbers, t.TicketNumber)
	}

	return r.publisher.Publish(ctx, UserChannel(purchase.BuyerID), map[string]any{
		"type":        "purchase_completed",
		"purchase_id": purchase.ID,
		"event_id":    purchase.EventID,
		"tickets":     numbers,
	})
}
