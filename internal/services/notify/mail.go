package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/mail"

	"ticket-reconciler/models"

	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<p>Your purchase {{.PurchaseID}} is confirmed.</p>
<p>Total paid: {{.Total}}</p>
<ul>
{{range .Tickets}}<li>{{.TicketNumber}}</li>
{{end}}</ul>
<p>The QR code for each ticket is attached.</p>`))

// Mail sends a confirmation email with one QR code image per ticket.
type Mail struct {
	client mailer.Mailer
	from   mail.Address
}

func NewMail(client mailer.Mailer, from mail.Address) *Mail {
	return &Mail{client: client, from: from}
}

func (m *Mail) PurchaseCompleted(ctx context.Context, purchase *models.Purchase, tickets []models.Ticket) error {
	if purchase.BuyerEmail == "" {
		return nil
	}

	attachments := make(map[string]io.Reader, len(tickets))
	for _, t := range tickets {
		png, err := qrcode.Encode(t.QRCode, qrcode.Medium, qrSize)
		if err != nil {
			return fmt.Errorf("qrcode.Encode %s: %w", t.TicketNumber, err)
		}
		attachments[t.TicketNumber+".png"] = bytes.NewReader(png)
	}

	var body bytes.Buffer
	err := confirmationTmpl.Execute(&body, map[string]any{
		"PurchaseID": purchase.ID,
		"Total":      purchase.TotalAmount.StringFixed(2),
		"Tickets":    tickets,
	})
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &mailer.Message{
		From:        m.from,
		To:          []mail.Address{{Address: purchase.BuyerEmail}},
		Subject:     "Your tickets",
		HTML:        body.String(),
		Attachments: attachments,
	}
	if err := m.client.Send(msg); err != nil {
		return fmt.Errorf("mailer.Send: %w", err)
	}
	return nil
}
