package status

import "errors"

var (
	ErrNotFound            = errors.New("record: not found")
	ErrReferenceMismatch   = errors.New("payment: external reference does not match purchase")
	ErrUpstream            = errors.New("provider: upstream failure")
	ErrInvalidNotification = errors.New("webhook: invalid notification")
	ErrForbidden           = errors.New("purchase: access denied")
	ErrDuplicate           = errors.New("record: duplicate")
	ErrNotEligible         = errors.New("refund: not eligible")
	ErrInvalidState        = errors.New("record: invalid state for operation")
	ErrUnknownRefundReason = errors.New("refund: unknown reason")
	ErrEmptySelection      = errors.New("purchase: empty ticket selection")
	ErrLockNotAcquired     = errors.New("lock: not acquired")
	ErrInvalidRequest      = errors.New("request: invalid")
	ErrInsufficientStock   = errors.New("ticket type: insufficient inventory")
)
