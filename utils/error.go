package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrInvalidDeduction means a computed allocation asked a lot for more than its
// remaining quantity (or a negative amount). That is a bug in the allocation
// logic, not bad user input, so callers must not retry.
var ErrInvalidDeduction = errors.New("invalid stock deduction")

// ValidationError is a malformed request caught at the boundary, before any
// store access.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError carries the classification key and the shortfall for
// the first bill line that could not be covered by remaining stock.
type InsufficientStockError struct {
	Product   string          `json:"product"`
	Type      string          `json:"type"`
	Place     string          `json:"place"`
	Unit      string          `json:"unit"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s/%s/%s: requested %s, available %s (short %s)",
		e.Product, e.Type, e.Place, e.Unit,
		e.Requested.String(), e.Available.String(), e.Shortfall.String())
}

// CommitError wraps a storage fault hit while the bill transaction was being
// written. All writes of that transaction are rolled back, so the same bill
// may be resubmitted safely.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "bill commit failed: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
