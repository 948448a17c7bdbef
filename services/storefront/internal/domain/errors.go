package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Cart session error taxonomy. Operations return these wrapped in an
// *apperrors.AppError; match them with errors.Is.
var (
	ErrNetworkFailure           = errors.New("persistence service unreachable")
	ErrLineNotFound             = errors.New("cart line not found")
	ErrInvalidFulfillmentTarget = errors.New("invalid fulfillment target")
	ErrOrderAlreadyInFlight     = errors.New("order already in flight")
	ErrOrderPlacementFailed     = errors.New("order placement failed")
	ErrInvalidState             = errors.New("operation not allowed in current state")
	ErrEmptyCart                = errors.New("cart is empty")
	ErrAuthenticationRequired   = errors.New("authentication required")
)

// PlacementError is a business rejection of an order placement (out of stock,
// inactive store, ...). It matches ErrOrderPlacementFailed.
type PlacementError struct {
	Reason string
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("order placement failed: %s", e.Reason)
}

func (e *PlacementError) Unwrap() error {
	return ErrOrderPlacementFailed
}

// NetworkFailure wraps a transport or decoding failure of a remote call.
func NetworkFailure(op string, cause error) *apperrors.AppError {
	return apperrors.New("NETWORK_FAILURE", http.StatusServiceUnavailable,
		fmt.Sprintf("%s: persistence service unavailable", op),
		fmt.Errorf("%w: %w", ErrNetworkFailure, cause))
}

// LineNotFound reports a missing line.
func LineNotFound(key LineKey) *apperrors.AppError {
	return apperrors.New("LINE_NOT_FOUND", http.StatusNotFound,
		fmt.Sprintf("no line for product %d variant %q", key.ProductID, key.Variant),
		ErrLineNotFound)
}

// InvalidFulfillmentTarget reports a target that does not match the method.
func InvalidFulfillmentTarget(method, targetID string) *apperrors.AppError {
	return apperrors.New("INVALID_FULFILLMENT_TARGET", http.StatusBadRequest,
		fmt.Sprintf("%q is not a valid %s target", targetID, method),
		ErrInvalidFulfillmentTarget)
}

// OrderAlreadyInFlight reports a reentrant placement.
func OrderAlreadyInFlight() *apperrors.AppError {
	return apperrors.New("ORDER_IN_FLIGHT", http.StatusConflict,
		"an order for this cart is already being placed", ErrOrderAlreadyInFlight)
}

// OrderPlacementFailed wraps a business rejection from the placement call.
func OrderPlacementFailed(cause *PlacementError) *apperrors.AppError {
	return apperrors.New("ORDER_PLACEMENT_FAILED", http.StatusUnprocessableEntity,
		cause.Reason, cause)
}

// InvalidState reports an operation that the current state does not allow.
func InvalidState(op string, s State) *apperrors.AppError {
	return apperrors.New("INVALID_STATE", http.StatusConflict,
		fmt.Sprintf("%s is not allowed in state %s", op, s), ErrInvalidState)
}

// EmptyCart reports a placement attempt on an empty cart.
func EmptyCart() *apperrors.AppError {
	return apperrors.New("EMPTY_CART", http.StatusBadRequest,
		"cannot place an order for an empty cart", ErrEmptyCart)
}

// AuthenticationRequired reports an operation that needs a signed-in owner.
func AuthenticationRequired(op string) *apperrors.AppError {
	return apperrors.New("AUTHENTICATION_REQUIRED", http.StatusUnauthorized,
		fmt.Sprintf("%s requires a signed-in user", op), ErrAuthenticationRequired)
}
