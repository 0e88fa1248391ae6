package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/payment"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is matched by InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrValidation is matched by ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrentUpdate is returned when the stored version changed
	// underneath an update.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	// ErrAddressNotFound is returned by AddressRepository for unknown ids.
	ErrAddressNotFound = errors.New("address not found")
)

// InvalidTransitionError reports an operation that is not allowed in the
// order's current state.
type InvalidTransitionError struct {
	Op     string
	From   string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s order in state %s", e.Op, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RefundFailedError carries the gateway outcome of a rejected refund. The
// order is left unchanged and the refund may be retried.
type RefundFailedError struct {
	OrderID string
	Result  payment.RefundResult
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund for order %s failed: %s", e.OrderID, e.Result.Message)
}

func (e *RefundFailedError) Unwrap() error {
	if e.Result.Cause != nil {
		return e.Result.Cause
	}
	return payment.ErrGateway
}
