package rest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

// Rows as the BaaS returns them. Money columns are numeric in major units.

type cartItemRow struct {
	CartID    string          `json:"cart_id,omitempty"`
	ProductID int64           `json:"product_id"`
	Variant   string          `json:"variant"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type cartRow struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	Fulfillment       *string            `json:"fulfillment"`
	FulfillmentTarget *string            `json:"fulfillment_target"`
	DeliveryOptionID  *string            `json:"delivery_option_id"`
	DeliveryOption    *deliveryOptionRow `json:"delivery_options"`
	Items             []cartItemRow      `json:"cart_items"`
}

func (r cartRow) record() *domain.CartRecord {
	rec := &domain.CartRecord{
		ID:     r.ID,
		UserID: r.UserID,
		Lines:  make([]domain.Line, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		rec.Lines = append(rec.Lines, domain.Line{
			ProductID: it.ProductID,
			Variant:   it.Variant,
			Name:      it.Name,
			UnitPrice: toMinor(it.UnitPrice),
			Quantity:  it.Quantity,
		})
	}
	if r.Fulfillment != nil && r.FulfillmentTarget != nil {
		rec.Fulfillment = &domain.Fulfillment{Method: *r.Fulfillment, TargetID: *r.FulfillmentTarget}
		if opt := r.DeliveryOption; r.DeliveryOptionID != nil && opt != nil && opt.IsActive {
			rec.Fulfillment.DeliveryOptionID = *r.DeliveryOptionID
			rec.Fulfillment.DeliveryFee = toMinor(opt.Price)
		}
	}
	return rec
}

type fulfillmentPatch struct {
	Fulfillment       *string `json:"fulfillment"`
	FulfillmentTarget *string `json:"fulfillment_target"`
	DeliveryOptionID  *string `json:"delivery_option_id"`
}

type deliveryOptionRow struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	EstimatedDays int             `json:"estimated_days,omitempty"`
	IsActive      bool            `json:"is_active"`
}

func (r deliveryOptionRow) option() *domain.DeliveryOption {
	return &domain.DeliveryOption{
		ID:            r.ID,
		Name:          r.Name,
		Price:         toMinor(r.Price),
		EstimatedDays: r.EstimatedDays,
	}
}

type idRow struct {
	ID string `json:"id"`
}

type priceRow struct {
	ID    int64           `json:"id"`
	Price decimal.Decimal `json:"price"`
}

type placeOrderArgs struct {
	UserID           string  `json:"p_user_id"`
	CartID           string  `json:"p_cart_id"`
	Fulfillment      string  `json:"p_fulfillment"`
	StoreID          *string `json:"p_store_id"`
	AddressID        *string `json:"p_address_id"`
	DeliveryOptionID *string `json:"p_delivery_option_id"`
	PaymentMethod    string  `json:"p_payment_method"`
	Notes            string  `json:"p_notes"`
}

type placeOrderResult struct {
	OrderID     string          `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type orderItemRow struct {
	ProductID int64           `json:"product_id"`
	Variant   string          `json:"variant"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type orderRow struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	FulfillmentMethod string          `json:"fulfillment_method"`
	AddressID         *string         `json:"delivery_address_id"`
	StoreID           *string         `json:"store_id"`
	PaymentMethod     string          `json:"payment_method"`
	Notes             *string         `json:"notes"`
	Status            string          `json:"status"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CreatedAt         time.Time       `json:"created_at"`
	Items             []orderItemRow  `json:"order_items"`
}

const orderSelect = "id,user_id,fulfillment_method,delivery_address_id,store_id,payment_method,notes,status,delivery_fee,total_amount,created_at," +
	"order_items(product_id,variant,name,quantity,unit_price,subtotal)"

func (r orderRow) order() (domain.Order, error) {
	if r.ID == "" {
		return domain.Order{}, fmt.Errorf("order row: missing id")
	}
	if !domain.IsValidOrderStatus(r.Status) {
		return domain.Order{}, fmt.Errorf("order %s: unknown status %q", r.ID, r.Status)
	}
	o := domain.Order{
		ID:                r.ID,
		UserID:            r.UserID,
		FulfillmentMethod: r.FulfillmentMethod,
		PaymentMethod:     r.PaymentMethod,
		Status:            r.Status,
		DeliveryFee:       toMinor(r.DeliveryFee),
		TotalAmount:       toMinor(r.TotalAmount),
		CreatedAt:         r.CreatedAt,
		Items:             make([]domain.OrderItem, 0, len(r.Items)),
	}
	if r.AddressID != nil {
		o.AddressID = *r.AddressID
	}
	if r.StoreID != nil {
		o.StoreID = *r.StoreID
	}
	if r.Notes != nil {
		o.Notes = *r.Notes
	}
	for _, it := range r.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ProductID: it.ProductID,
			Variant:   it.Variant,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: toMinor(it.UnitPrice),
			Subtotal:  toMinor(it.Subtotal),
		})
	}
	return o, nil
}
