package handlers

import (
	"log/slog"
	"net/http"

	"ticket-reconciler/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// AdminHandler serves superuser-only refund and reconciliation endpoints.
type AdminHandler struct {
	refunds *services.RefundService
	poll    *services.PollEntry
}

func NewAdminHandler(refunds *services.RefundService, poll *services.PollEntry) *AdminHandler {
	return &AdminHandler{refunds: refunds, poll: poll}
}

// PreviewRefund - Quote a refund without executing it
func (h *AdminHandler) PreviewRefund(e *core.RequestEvent) error {
	id := e.Request.PathValue("refundId")

	preview, err := h.refunds.Preview(e.Request.Context(), id)
	if err != nil {
		slog.Error("h.refunds.Preview()", "refund_id", id, "error", err)
		return apiError(err)
	}
	return e.JSON(http.StatusOK, preview)
}

// ApproveRefund - Issue the provider refund and mark tickets refunded
func (h *AdminHandler) ApproveRefund(e *core.RequestEvent) error {
	id := e.Request.PathValue("refundId")

	refund, err := h.refunds.Approve(e.Request.Context(), id)
	if err != nil {
		slog.Error("h.refunds.Approve()", "refund_id", id, "error", err)
		return apiError(err)
	}
	return e.JSON(http.StatusOK, refund)
}

// RejectRefund - Close a pending refund request
func (h *AdminHandler) RejectRefund(e *core.RequestEvent) error {
	id := e.Request.PathValue("refundId")

	var req struct {
		Note string `json:"note"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	refund, err := h.refunds.Reject(e.Request.Context(), id, req.Note)
	if err != nil {
		slog.Error("h.refunds.Reject()", "refund_id", id, "error", err)
		return apiError(err)
	}
	return e.JSON(http.StatusOK, refund)
}

// ReconcilePurchase - Force a provider lookup for any purchase
func (h *AdminHandler) ReconcilePurchase(e *core.RequestEvent) error {
	id := e.Request.PathValue("purchaseId")

	res, err := h.poll.Force(e.Request.Context(), id)
	if err != nil {
		slog.Error("h.poll.Force()", "purchase_id", id, "error", err)
		return apiError(err)
	}
	return e.JSON(http.StatusOK, res)
}
