package repository

import (
	"context"

	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

// CartRepository defines the cart persistence operations of the persistence
// service. All calls are keyed by the remote cart id except GetOrCreateCart.
type CartRepository interface {
	// GetOrCreateCart returns the user's cart, creating an empty one if none
	// exists. It is idempotent.
	GetOrCreateCart(ctx context.Context, userID string) (*domain.CartRecord, error)

	// UpsertCartLine writes the line's absolute quantity, overwriting any line
	// with the same product and variant.
	UpsertCartLine(ctx context.Context, cartID string, line domain.Line) error

	// DeleteCartLine removes a line. Deleting an absent line is not an error.
	DeleteCartLine(ctx context.Context, cartID string, key domain.LineKey) error

	// SetCartFulfillment stores the fulfillment preference. nil clears it.
	SetCartFulfillment(ctx context.Context, cartID string, f *domain.Fulfillment) error
}

// OrderPlacer performs the single atomic order placement. Business
// rejections are returned as *domain.PlacementError.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.PlacementResult, error)
}

// TargetResolver tells what a fulfillment target id refers to for a user.
// Unknown ids, foreign addresses and inactive stores resolve to TargetUnknown.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, userID, targetID string) (domain.TargetKind, error)

	// ResolveDeliveryOption returns the active delivery option with the given
	// id, or the cheapest active one when optionID is empty. It returns nil
	// when there is no such option.
	ResolveDeliveryOption(ctx context.Context, optionID string) (*domain.DeliveryOption, error)
}

// PriceSource returns current catalog prices in minor units. Products that no
// longer exist are absent from the result.
type PriceSource interface {
	GetPrices(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

// PriceInvalidator is implemented by price sources that cache. Invalidate
// forces the next lookup of the given products to reach the catalog.
type PriceInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...int64) error
}

// OrderReader reads a user's order history.
type OrderReader interface {
	ListOrders(ctx context.Context, userID string, params pagination.Params) ([]domain.Order, int, error)
	GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error)
}

// Backend is everything the storefront needs from one persistence service.
type Backend interface {
	CartRepository
	OrderPlacer
	TargetResolver
	PriceSource
	OrderReader
}
