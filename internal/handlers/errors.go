package handlers

import (
	"errors"
	"net/http"

	"ticket-reconciler/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"
)

// apiError maps service errors onto HTTP responses.
func apiError(err error) error {
	switch {
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Not found", nil)
	case errors.Is(err, status.ErrReferenceMismatch):
		return router.NewApiError(http.StatusConflict, "Payment does not belong to this purchase", nil)
	case errors.Is(err, status.ErrUpstream):
		return router.NewApiError(http.StatusBadGateway, "Payment provider unavailable", nil)
	case errors.Is(err, status.ErrInvalidNotification),
		errors.Is(err, status.ErrInvalidRequest),
		errors.Is(err, status.ErrEmptySelection),
		errors.Is(err, status.ErrUnknownRefundReason):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrForbidden):
		return apis.NewForbiddenError("Access denied", nil)
	case errors.Is(err, status.ErrNotEligible):
		return router.NewApiError(http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, status.ErrInvalidState),
		errors.Is(err, status.ErrInsufficientStock):
		return router.NewApiError(http.StatusConflict, err.Error(), nil)
	case errors.Is(err, status.ErrLockNotAcquired):
		return router.NewApiError(http.StatusServiceUnavailable, "Purchase is busy, retry shortly", nil)
	default:
		return apis.NewInternalServerError("internal error", nil)
	}
}
