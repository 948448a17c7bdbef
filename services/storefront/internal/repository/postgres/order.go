package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

type placementLine struct {
	domain.OrderItem
	stock int
}

// PlaceOrder turns the server-side cart into an order in one transaction:
// it snapshots the cart lines at current prices, checks and decrements stock,
// adds the delivery fee and clears the cart. Business rejections are returned
// as *domain.PlacementError and leave the cart untouched.
func (b *Backend) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (res *domain.PlacementResult, err error) {
	ctx, end := database.TraceQuery(ctx, "PlaceOrder", "place_order")
	defer func() { end(err) }()

	err = database.WithTx(ctx, b.pool, func(tx pgx.Tx) error {
		var cartID string
		err := tx.QueryRow(ctx,
			`SELECT id FROM carts WHERE id = $1 AND user_id = $2 FOR UPDATE`,
			req.CartID, req.UserID,
		).Scan(&cartID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &domain.PlacementError{Reason: "cart not found"}
			}
			return fmt.Errorf("lock cart: %w", err)
		}

		lines, err := lockCartLines(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &domain.PlacementError{Reason: "cart is empty"}
		}

		need := make(map[int64]int, len(lines))
		var products []int64
		for _, l := range lines {
			if _, seen := need[l.ProductID]; !seen {
				products = append(products, l.ProductID)
			}
			need[l.ProductID] += l.Quantity
			if need[l.ProductID] > l.stock {
				return &domain.PlacementError{Reason: fmt.Sprintf("insufficient stock for product %d", l.ProductID)}
			}
		}

		kind, err := resolveTarget(ctx, tx, req.UserID, req.Fulfillment.TargetID)
		if err != nil {
			return err
		}
		if kind != domain.ExpectedTarget(req.Fulfillment.Method) {
			return &domain.PlacementError{Reason: fmt.Sprintf("%s target %s is not available", req.Fulfillment.Method, req.Fulfillment.TargetID)}
		}

		var (
			addressID, storeID, optionID *string
			fee                          int64
		)
		switch req.Fulfillment.Method {
		case domain.MethodDelivery:
			addressID = &req.Fulfillment.TargetID
			opt, err := deliveryOption(ctx, tx, req.Fulfillment.DeliveryOptionID)
			if err != nil {
				return err
			}
			switch {
			case opt != nil:
				optionID, fee = &opt.ID, opt.Price
			case req.Fulfillment.DeliveryOptionID != "":
				return &domain.PlacementError{Reason: fmt.Sprintf("delivery option %s is not available", req.Fulfillment.DeliveryOptionID)}
			}
		case domain.MethodPickup:
			storeID = &req.Fulfillment.TargetID
		}

		total := fee
		for _, l := range lines {
			total += l.Subtotal
		}

		orderID := uuid.New().String()
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, fulfillment_method, address_id, store_id, delivery_option_id, payment_method, notes, status, delivery_fee, total_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			orderID,
			req.UserID,
			req.Fulfillment.Method,
			addressID,
			storeID,
			optionID,
			req.PaymentMethod,
			req.Notes,
			domain.OrderStatusPending,
			fee,
			total,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, l := range lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (id, order_id, product_id, variant, name, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New().String(), orderID, l.ProductID, l.Variant, l.Name, l.Quantity, l.UnitPrice, l.Subtotal,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		for _, productID := range products {
			if _, err := tx.Exec(ctx,
				`UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2`,
				need[productID], productID,
			); err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE carts
			SET fulfillment_method = NULL, fulfillment_target = NULL, updated_at = NOW()
			WHERE id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart fulfillment: %w", err)
		}

		res = &domain.PlacementResult{OrderID: orderID, TotalAmount: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lockCartLines reads every cart line at current catalog prices, locking the
// product rows until the transaction ends. A line whose product has been
// deactivated rejects the placement.
func lockCartLines(ctx context.Context, tx pgx.Tx, cartID string) ([]placementLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT ci.product_id, ci.variant, p.name, p.price, ci.quantity, p.stock, p.is_active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.position
		FOR UPDATE OF p`, cartID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	defer rows.Close()

	var (
		lines    []placementLine
		inactive []int64
	)
	for rows.Next() {
		var (
			l      placementLine
			active bool
		)
		if err := rows.Scan(&l.ProductID, &l.Variant, &l.Name, &l.UnitPrice, &l.Quantity, &l.stock, &active); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if !active {
			inactive = append(inactive, l.ProductID)
			continue
		}
		l.Subtotal = l.UnitPrice * int64(l.Quantity)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	if len(inactive) > 0 {
		return nil, &domain.PlacementError{Reason: fmt.Sprintf("product %d is no longer available", inactive[0])}
	}
	return lines, nil
}

const orderColumns = `id, user_id, fulfillment_method, COALESCE(address_id::text, ''), COALESCE(store_id::text, ''),
	payment_method, notes, status, delivery_fee, total_amount, created_at`

func scanOrder(row pgx.Row, o *domain.Order, extra ...any) error {
	dest := []any{
		&o.ID,
		&o.UserID,
		&o.FulfillmentMethod,
		&o.AddressID,
		&o.StoreID,
		&o.PaymentMethod,
		&o.Notes,
		&o.Status,
		&o.DeliveryFee,
		&o.TotalAmount,
		&o.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// ListOrders returns a page of the user's orders, newest first, with items.
func (b *Backend) ListOrders(ctx context.Context, userID string, params pagination.Params) (orders []domain.Order, total int, err error) {
	query := `
		SELECT ` + orderColumns + `, count(*) OVER() AS total_count
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListOrders", query)
	defer func() { end(err) }()

	rows, err := b.pool.Query(ctx, query, userID, params.Limit(), params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders = make([]domain.Order, 0)
	for rows.Next() {
		var o domain.Order
		if err = scanOrder(rows, &o, &total); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	if len(orders) == 0 {
		return orders, total, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := b.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		if its, ok := items[orders[i].ID]; ok {
			orders[i].Items = its
		} else {
			orders[i].Items = []domain.OrderItem{}
		}
	}
	return orders, total, nil
}

// GetOrder returns one of the user's orders with its items.
func (b *Backend) GetOrder(ctx context.Context, userID, orderID string) (o *domain.Order, err error) {
	if _, perr := uuid.Parse(orderID); perr != nil {
		return nil, apperrors.NotFound("order", orderID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	ctx, end := database.TraceQuery(ctx, "GetOrder", query)
	defer func() { end(err) }()

	o = &domain.Order{}
	if err = scanOrder(b.pool.QueryRow(ctx, query, orderID, userID), o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	items, err := b.loadItems(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	o.Items = items[orderID]
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	return o, nil
}

// loadItems batch-loads the items of several orders, grouped by order id.
func (b *Backend) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT order_id, product_id, variant, name, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Variant, &it.Name, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		byOrder[orderID] = append(byOrder[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return byOrder, nil
}
