package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"ticket-reconciler/internal/services"
	"ticket-reconciler/models"
	"ticket-reconciler/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	webhook  *services.WebhookEntry
	poll     *services.PollEntry
	verifier *security.WebhookVerifier
}

// NewPaymentHandler builds the payment endpoints. A nil verifier disables
// webhook signature checks.
func NewPaymentHandler(webhook *services.WebhookEntry, poll *services.PollEntry, verifier *security.WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{
		webhook:  webhook,
		poll:     poll,
		verifier: verifier,
	}
}

// Webhook - Provider payment notification
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	n, err := parseNotification(body, e.Request.URL.Query())
	if err != nil {
		slog.Warn("webhook: undecodable notification", "body", string(body), "error", err)
		return apis.NewBadRequestError("Invalid notification", nil)
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(e.Request.Header, n.Data.ID.String()); err != nil {
			slog.Warn("webhook: signature rejected", "data_id", n.Data.ID, "ip", e.Request.RemoteAddr, "error", err)
			return apis.NewUnauthorizedError("Invalid signature", nil)
		}
	}

	out, err := h.webhook.Handle(e.Request.Context(), n)
	if err != nil {
		slog.Error("h.webhook.Handle()", "type", n.Type, "data_id", n.Data.ID, "error", err)
		return apiError(err)
	}

	resp := map[string]any{"received": true}
	if out != nil {
		resp["purchase_id"] = out.PurchaseID
		resp["status"] = out.Status
		resp["updated"] = out.Updated
	}
	return e.JSON(http.StatusOK, resp)
}

// parseNotification reads the JSON body, falling back to the query string
// form (?type=payment&data.id=... or ?topic=payment&id=...).
func parseNotification(body []byte, q url.Values) (services.Notification, error) {
	var n services.Notification
	if len(body) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return n, err
		}
	}

	if n.Type == "" {
		n.Type = q.Get("type")
		if n.Type == "" {
			n.Type = q.Get("topic")
		}
	}
	if n.Data.ID == "" {
		id := q.Get("data.id")
		if id == "" {
			id = q.Get("id")
		}
		n.Data.ID = models.PaymentID(id)
	}
	return n, nil
}

type checkStatusRequest struct {
	PurchaseID string `json:"purchaseId"`
}

// CheckStatus - Buyer asks for a fresh status of a stuck purchase
func (h *PaymentHandler) CheckStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req checkStatusRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.PurchaseID == "" {
		return apis.NewBadRequestError("purchaseId is required", nil)
	}

	res, err := h.poll.Check(e.Request.Context(), req.PurchaseID, e.Auth.Id)
	if err != nil {
		slog.Error("h.poll.Check()", "purchase_id", req.PurchaseID, "user_id", e.Auth.Id, "error", err)
		return apiError(err)
	}
	return e.JSON(http.StatusOK, res)
}
