package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a state transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConflict is returned when a commit batch was proposed against a
	// version stamp that is no longer current.
	ErrConflict = errors.New("ledger conflict")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when trying to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrClassificationUnavailable is returned when the classification
	// capability could not be reached or did not answer in time.
	ErrClassificationUnavailable = errors.New("classification unavailable")

	// ErrDeadlineExceeded is returned when the request-level deadline expires.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")

	// ErrInsufficientStock is returned when a proposal would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientCash is returned when a proposal would drive cash negative.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrUnknownItem is returned when an item id is not in the catalog.
	ErrUnknownItem = errors.New("unknown item")

	// ErrPaymentDeclined is returned when the payment gateway refuses a capture.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrNoPendingStep is returned when advance is called on an execution
	// that has no step left to run.
	ErrNoPendingStep = errors.New("no pending step")
)

// Shortage describes how far a single item is from satisfying a request.
type Shortage struct {
	ItemID    string `json:"item_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// ShortageError carries the per-item shortages behind ErrInsufficientStock.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ItemID, s.Requested, s.Available))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, ", "))
}

func (e *ShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// IsBusinessRule reports whether err is a business-rule violation that no
// amount of retrying can fix.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientCash) ||
		errors.Is(err, ErrUnknownItem) ||
		errors.Is(err, ErrPaymentDeclined) ||
		errors.Is(err, ErrInvalidArgument)
}

// ErrorCode returns the stable code callers see for err, or "" when err is
// not a domain error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ErrUnknownItem):
		return "unknown_item"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return ""
	}
}
