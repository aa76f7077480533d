// README: Order error taxonomy; the HTTP layer maps each family to one status code.
package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("ORDER_NOT_FOUND")
	ErrConflict           = errors.New("order state conflict")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrServiceUnavailable = errors.New("service unavailable")

	ErrNotAssigning     = fmt.Errorf("%w: order status is not ASSIGNING", ErrInvalidState)
	ErrNotOngoing       = fmt.Errorf("%w: order status is not ONGOING", ErrInvalidState)
	ErrCompletedAlready = fmt.Errorf("%w: order status is COMPLETED already", ErrInvalidState)
)

// ValidationError reports malformed or insufficient input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
