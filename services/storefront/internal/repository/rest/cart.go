package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

const cartSelect = "id,user_id,fulfillment,fulfillment_target,delivery_option_id," +
	"delivery_options(price,is_active),cart_items(product_id,variant,name,unit_price,quantity)"

// GetOrCreateCart fetches the user's cart with its items, inserting an empty
// cart when none exists. A concurrent insert is resolved by reading again.
func (b *Backend) GetOrCreateCart(ctx context.Context, userID string) (*domain.CartRecord, error) {
	rec, err := b.findCart(ctx, userID)
	if err != nil || rec != nil {
		return rec, err
	}

	var created []cartRow
	_, err = b.send(ctx, b.tables, request{
		method: http.MethodPost,
		path:   "/rest/v1/carts",
		query:  url.Values{"select": {cartSelect}},
		body:   map[string]string{"user_id": userID},
		prefer: "return=representation",
	}, &created)
	if err != nil {
		var re *httpclient.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusConflict {
			if rec, ferr := b.findCart(ctx, userID); ferr != nil || rec != nil {
				return rec, ferr
			}
		}
		return nil, fmt.Errorf("create cart: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("create cart: empty representation")
	}
	return created[0].record(), nil
}

func (b *Backend) findCart(ctx context.Context, userID string) (*domain.CartRecord, error) {
	var rows []cartRow
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodGet,
		path:   "/rest/v1/carts",
		query: url.Values{
			"select":           {cartSelect},
			"user_id":          {eq(userID)},
			"limit":            {"1"},
			"cart_items.order": {"position.asc"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].record(), nil
}

// UpsertCartLine writes a line, merging on (cart_id, product_id, variant).
func (b *Backend) UpsertCartLine(ctx context.Context, cartID string, line domain.Line) error {
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodPost,
		path:   "/rest/v1/cart_items",
		query:  url.Values{"on_conflict": {"cart_id,product_id,variant"}},
		body: cartItemRow{
			CartID:    cartID,
			ProductID: line.ProductID,
			Variant:   line.Variant,
			Name:      line.Name,
			UnitPrice: fromMinor(line.UnitPrice),
			Quantity:  line.Quantity,
		},
		prefer: "resolution=merge-duplicates,return=minimal",
	}, nil)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// DeleteCartLine removes a line. Deleting nothing is not an error.
func (b *Backend) DeleteCartLine(ctx context.Context, cartID string, key domain.LineKey) error {
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodDelete,
		path:   "/rest/v1/cart_items",
		query: url.Values{
			"cart_id":    {eq(cartID)},
			"product_id": {eq(strconv.FormatInt(key.ProductID, 10))},
			"variant":    {eq(key.Variant)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// SetCartFulfillment patches the cart's fulfillment columns. nil clears them.
func (b *Backend) SetCartFulfillment(ctx context.Context, cartID string, f *domain.Fulfillment) error {
	var patch fulfillmentPatch
	if f != nil {
		patch.Fulfillment, patch.FulfillmentTarget = &f.Method, &f.TargetID
		if f.DeliveryOptionID != "" {
			patch.DeliveryOptionID = &f.DeliveryOptionID
		}
	}

	var updated []idRow
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodPatch,
		path:   "/rest/v1/carts",
		query:  url.Values{"id": {eq(cartID)}, "select": {"id"}},
		body:   patch,
		prefer: "return=representation",
	}, &updated)
	if err != nil {
		return fmt.Errorf("update cart fulfillment: %w", err)
	}
	if len(updated) == 0 {
		return fmt.Errorf("update cart fulfillment: cart %s not found", cartID)
	}
	return nil
}

// ResolveTarget looks the id up among the user's addresses, then among
// active stores.
func (b *Backend) ResolveTarget(ctx context.Context, userID, targetID string) (domain.TargetKind, error) {
	found, err := b.exists(ctx, "/rest/v1/user_addresses", url.Values{
		"id":      {eq(targetID)},
		"user_id": {eq(userID)},
	})
	if err != nil {
		return domain.TargetUnknown, fmt.Errorf("resolve address: %w", err)
	}
	if found {
		return domain.TargetAddress, nil
	}

	found, err = b.exists(ctx, "/rest/v1/stores", url.Values{
		"id":        {eq(targetID)},
		"is_active": {"eq.true"},
	})
	if err != nil {
		return domain.TargetUnknown, fmt.Errorf("resolve store: %w", err)
	}
	if found {
		return domain.TargetStore, nil
	}
	return domain.TargetUnknown, nil
}

// ResolveDeliveryOption returns the active delivery option with the given id,
// or the cheapest active one when optionID is empty.
func (b *Backend) ResolveDeliveryOption(ctx context.Context, optionID string) (*domain.DeliveryOption, error) {
	query := url.Values{
		"select":    {"id,name,price,estimated_days,is_active"},
		"is_active": {"eq.true"},
		"order":     {"price.asc,id.asc"},
		"limit":     {"1"},
	}
	if optionID != "" {
		query.Set("id", eq(optionID))
	}

	var rows []deliveryOptionRow
	if _, err := b.send(ctx, b.tables, request{method: http.MethodGet, path: "/rest/v1/delivery_options", query: query}, &rows); err != nil {
		if isMalformedID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve delivery option: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].option(), nil
}

func (b *Backend) exists(ctx context.Context, path string, filter url.Values) (bool, error) {
	filter.Set("select", "id")
	filter.Set("limit", "1")

	var rows []idRow
	if _, err := b.send(ctx, b.tables, request{method: http.MethodGet, path: path, query: filter}, &rows); err != nil {
		if isMalformedID(err) {
			return false, nil
		}
		return false, err
	}
	return len(rows) > 0, nil
}

// isMalformedID reports a uuid filter rejected with 400 22P02. Such an id
// simply does not exist.
func isMalformedID(err error) bool {
	var re *httpclient.RemoteError
	return errors.As(err, &re) && re.Status == http.StatusBadRequest && re.Code == "22P02"
}

// GetPrices returns current prices of active products in minor units.
func (b *Backend) GetPrices(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	prices := make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return prices, nil
	}

	var rows []priceRow
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodGet,
		path:   "/rest/v1/products",
		query: url.Values{
			"select":    {"id,price"},
			"id":        {inList(productIDs)},
			"is_active": {"eq.true"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	for _, r := range rows {
		prices[r.ID] = toMinor(r.Price)
	}
	return prices, nil
}
