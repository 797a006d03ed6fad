package handlers

import (
	"log/slog"
	"net/http"

	"ticket-reconciler/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type PurchaseHandler struct {
	checkout *services.CheckoutService
}

func NewPurchaseHandler(checkout *services.CheckoutService) *PurchaseHandler {
	return &PurchaseHandler{checkout: checkout}
}

// Create - Open a pending purchase for the authenticated buyer
func (h *PurchaseHandler) Create(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.CheckoutRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	p, err := h.checkout.CreatePending(e.Request.Context(), e.Auth.Id, e.Auth.Email(), req)
	if err != nil {
		slog.Error("h.checkout.CreatePending()", "event_id", req.EventID, "user_id", e.Auth.Id, "error", err)
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, map[string]any{
		"id":                p.ID,
		"event_id":          p.EventID,
		"base_amount":       p.BaseAmount,
		"commission_amount": p.CommissionAmount,
		"total_amount":      p.TotalAmount,
		"payment_status":    p.PaymentStatus,
	})
}
