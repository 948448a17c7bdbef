package domain

import (
	"time"
)

// Order status constants.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order is a placed order. Items are a snapshot of the cart at placement time.
type Order struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	FulfillmentMethod string      `json:"fulfillment_method"`
	AddressID         string      `json:"address_id,omitempty"`
	StoreID           string      `json:"store_id,omitempty"`
	PaymentMethod     string      `json:"payment_method"`
	Notes             string      `json:"notes,omitempty"`
	Status            string      `json:"status"`
	DeliveryFee       int64       `json:"delivery_fee"`
	TotalAmount       int64       `json:"total_amount"`
	Items             []OrderItem `json:"items"`
	CreatedAt         time.Time   `json:"created_at"`
}

// OrderItem is one snapshotted line of an order.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

// Total folds unit_price * quantity over the snapshotted items.
func (o *Order) Total() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// IsValidOrderStatus checks whether the given status string is known.
func IsValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PlaceOrderRequest is the single atomic placement call sent to the
// persistence service. Lines are taken from the server-side cart.
type PlaceOrderRequest struct {
	UserID        string
	CartID        string
	Fulfillment   Fulfillment
	PaymentMethod string
	Notes         string
}

// PlacementResult is what a successful placement returns.
type PlacementResult struct {
	OrderID     string `json:"order_id"`
	TotalAmount int64  `json:"total_amount"`
}
