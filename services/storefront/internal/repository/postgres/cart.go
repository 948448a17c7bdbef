package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

// Backend implements repository.Backend using PostgreSQL.
type Backend struct {
	pool database.DBTX
}

// NewBackend creates a new PostgreSQL-backed persistence service.
func NewBackend(pool database.DBTX) *Backend {
	return &Backend{pool: pool}
}

// GetOrCreateCart returns the user's cart with its lines, creating an empty
// cart on first use.
func (b *Backend) GetOrCreateCart(ctx context.Context, userID string) (rec *domain.CartRecord, err error) {
	query := `
		WITH c AS (
			INSERT INTO carts (id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
			RETURNING id, fulfillment_method, fulfillment_target, delivery_option_id
		)
		SELECT c.id, c.fulfillment_method, c.fulfillment_target, c.delivery_option_id::text, d.price
		FROM c
		LEFT JOIN delivery_options d ON d.id = c.delivery_option_id AND d.is_active`

	ctx, end := database.TraceQuery(ctx, "GetOrCreateCart", query)
	defer func() { end(err) }()

	var (
		method, target, optionID *string
		fee                      *int64
	)
	rec = &domain.CartRecord{UserID: userID}
	if err = b.pool.QueryRow(ctx, query, uuid.New().String(), userID).Scan(&rec.ID, &method, &target, &optionID, &fee); err != nil {
		return nil, fmt.Errorf("upsert cart: %w", err)
	}
	if method != nil && target != nil {
		rec.Fulfillment = &domain.Fulfillment{Method: *method, TargetID: *target}
		if optionID != nil && fee != nil {
			rec.Fulfillment.DeliveryOptionID = *optionID
			rec.Fulfillment.DeliveryFee = *fee
		}
	}

	linesQuery := `
		SELECT product_id, variant, name, unit_price, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position`

	rows, err := b.pool.Query(ctx, linesQuery, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	rec.Lines = make([]domain.Line, 0)
	for rows.Next() {
		var l domain.Line
		if err = rows.Scan(&l.ProductID, &l.Variant, &l.Name, &l.UnitPrice, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		rec.Lines = append(rec.Lines, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	return rec, nil
}

// UpsertCartLine writes the absolute quantity of a line.
func (b *Backend) UpsertCartLine(ctx context.Context, cartID string, line domain.Line) (err error) {
	query := `
		INSERT INTO cart_items (cart_id, product_id, variant, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id, variant) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    name = EXCLUDED.name,
		    unit_price = EXCLUDED.unit_price,
		    updated_at = NOW()`

	ctx, end := database.TraceQuery(ctx, "UpsertCartLine", query)
	defer func() { end(err) }()

	if _, err = b.pool.Exec(ctx, query,
		cartID,
		line.ProductID,
		line.Variant,
		line.Name,
		line.UnitPrice,
		line.Quantity,
	); err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// DeleteCartLine removes a line. A missing line is not an error.
func (b *Backend) DeleteCartLine(ctx context.Context, cartID string, key domain.LineKey) (err error) {
	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND variant = $3`

	ctx, end := database.TraceQuery(ctx, "DeleteCartLine", query)
	defer func() { end(err) }()

	if _, err = b.pool.Exec(ctx, query, cartID, key.ProductID, key.Variant); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// SetCartFulfillment stores or clears the cart's fulfillment preference.
func (b *Backend) SetCartFulfillment(ctx context.Context, cartID string, f *domain.Fulfillment) (err error) {
	query := `
		UPDATE carts
		SET fulfillment_method = $2, fulfillment_target = $3, delivery_option_id = $4, updated_at = NOW()
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SetCartFulfillment", query)
	defer func() { end(err) }()

	var method, target, optionID *string
	if f != nil {
		method, target = &f.Method, &f.TargetID
		if f.DeliveryOptionID != "" {
			optionID = &f.DeliveryOptionID
		}
	}

	ct, err := b.pool.Exec(ctx, query, cartID, method, target, optionID)
	if err != nil {
		return fmt.Errorf("update cart fulfillment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("cart", cartID)
	}
	return nil
}

// ResolveTarget reports whether targetID is one of the user's addresses or an
// active store.
func (b *Backend) ResolveTarget(ctx context.Context, userID, targetID string) (kind domain.TargetKind, err error) {
	if _, perr := uuid.Parse(targetID); perr != nil {
		return domain.TargetUnknown, nil
	}

	ctx, end := database.TraceQuery(ctx, "ResolveTarget", resolveTargetQuery)
	defer func() { end(err) }()

	return resolveTarget(ctx, b.pool, userID, targetID)
}

const resolveTargetQuery = `
	SELECT
		EXISTS (SELECT 1 FROM user_addresses WHERE id = $1 AND user_id = $2),
		EXISTS (SELECT 1 FROM stores WHERE id = $1 AND is_active)`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func resolveTarget(ctx context.Context, db rowQuerier, userID, targetID string) (domain.TargetKind, error) {
	var isAddress, isStore bool
	if err := db.QueryRow(ctx, resolveTargetQuery, targetID, userID).Scan(&isAddress, &isStore); err != nil {
		return domain.TargetUnknown, fmt.Errorf("resolve target: %w", err)
	}
	switch {
	case isAddress:
		return domain.TargetAddress, nil
	case isStore:
		return domain.TargetStore, nil
	default:
		return domain.TargetUnknown, nil
	}
}

// ResolveDeliveryOption returns the active delivery option with the given id,
// or the cheapest active one when optionID is empty.
func (b *Backend) ResolveDeliveryOption(ctx context.Context, optionID string) (opt *domain.DeliveryOption, err error) {
	if optionID != "" {
		if _, perr := uuid.Parse(optionID); perr != nil {
			return nil, nil
		}
	}

	ctx, end := database.TraceQuery(ctx, "ResolveDeliveryOption", deliveryOptionQuery)
	defer func() { end(err) }()

	return deliveryOption(ctx, b.pool, optionID)
}

const deliveryOptionQuery = `
	SELECT id::text, name, price, estimated_days
	FROM delivery_options
	WHERE is_active AND ($1 = '' OR id::text = $1)
	ORDER BY price ASC, id
	LIMIT 1`

func deliveryOption(ctx context.Context, db rowQuerier, optionID string) (*domain.DeliveryOption, error) {
	var opt domain.DeliveryOption
	err := db.QueryRow(ctx, deliveryOptionQuery, optionID).Scan(&opt.ID, &opt.Name, &opt.Price, &opt.EstimatedDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery option: %w", err)
	}
	return &opt, nil
}

// GetPrices returns the current price of each active product.
func (b *Backend) GetPrices(ctx context.Context, productIDs []int64) (prices map[int64]int64, err error) {
	prices = make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return prices, nil
	}

	query := `SELECT id, price FROM products WHERE id = ANY($1) AND is_active`

	ctx, end := database.TraceQuery(ctx, "GetPrices", query)
	defer func() { end(err) }()

	rows, err := b.pool.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, price int64
		if err = rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices[id] = price
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prices: %w", err)
	}
	return prices, nil
}
