package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

// PlaceOrder calls the api_place_order RPC once. The function runs in a
// single database transaction on the BaaS side. Business rejections become
// a *domain.PlacementError; any other failure is returned wrapped.
func (b *Backend) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.PlacementResult, error) {
	args := placeOrderArgs{
		UserID:        req.UserID,
		CartID:        req.CartID,
		Fulfillment:   req.Fulfillment.Method,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	target := req.Fulfillment.TargetID
	switch req.Fulfillment.Method {
	case domain.MethodDelivery:
		args.AddressID = &target
		if id := req.Fulfillment.DeliveryOptionID; id != "" {
			args.DeliveryOptionID = &id
		}
	case domain.MethodPickup:
		args.StoreID = &target
	}

	var out placeOrderResult
	_, err := b.send(ctx, b.rpc, request{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/api_place_order",
		body:   args,
	}, &out)
	if err != nil {
		var re *httpclient.RemoteError
		if errors.As(err, &re) && isRejection(re) {
			b.logger.InfoContext(ctx, "order placement rejected",
				slog.String("user_id", req.UserID),
				slog.String("code", re.Code),
				slog.String("reason", re.Message),
			)
			return nil, &domain.PlacementError{Reason: re.Message}
		}
		return nil, fmt.Errorf("place order: %w", err)
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("place order: response without order id")
	}

	return &domain.PlacementResult{
		OrderID:     out.OrderID,
		TotalAmount: toMinor(out.TotalAmount),
	}, nil
}

// isRejection reports whether the RPC refused the order for a business
// reason: a validation or conflict status, or an exception raised by the
// function itself (P0001-class codes). Auth, routing and rate-limit answers
// are infrastructure failures.
func isRejection(re *httpclient.RemoteError) bool {
	switch re.Status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return strings.HasPrefix(re.Code, "P0") && httpclient.IsClientError(re.Status)
}

// ListOrders returns a page of the user's orders with items, newest first.
func (b *Backend) ListOrders(ctx context.Context, userID string, params pagination.Params) ([]domain.Order, int, error) {
	var rows []orderRow
	header, err := b.send(ctx, b.tables, request{
		method: http.MethodGet,
		path:   "/rest/v1/orders",
		query: url.Values{
			"select":  {orderSelect},
			"user_id": {eq(userID)},
			"order":   {"created_at.desc"},
			"limit":   {strconv.Itoa(params.Limit())},
			"offset":  {strconv.Itoa(params.Offset)},
		},
		prefer: "count=exact",
	}, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.order()
		if err != nil {
			return nil, 0, fmt.Errorf("list orders: %w", err)
		}
		orders = append(orders, o)
	}

	total, ok := parseContentRangeTotal(header)
	if !ok {
		total = params.Offset + len(orders)
	}
	return orders, total, nil
}

// GetOrder returns one of the user's orders.
func (b *Backend) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	var rows []orderRow
	_, err := b.send(ctx, b.tables, request{
		method: http.MethodGet,
		path:   "/rest/v1/orders",
		query: url.Values{
			"select":  {orderSelect},
			"id":      {eq(orderID)},
			"user_id": {eq(userID)},
		},
	}, &rows)
	if err != nil {
		var re *httpclient.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusBadRequest {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFound("order", orderID)
	}

	o, err := rows[0].order()
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}
