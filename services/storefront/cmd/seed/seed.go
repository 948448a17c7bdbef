package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/pkg/database"
)

// seedNamespace derives stable ids for seeded rows so reruns update them in
// place instead of inserting duplicates.
var seedNamespace = uuid.MustParse("6f1c1e2a-8f3b-4d7e-9a55-3c2b1d0e4f60")

func seedID(kind, name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(kind+"/"+name)).String()
}

type productDef struct {
	id    int64
	name  string
	price int64 // minor units
	stock int
}

type storeDef struct {
	name, address, city string
}

type deliveryDef struct {
	name  string
	price int64
	days  int
}

type addressDef struct {
	label, street, city string
	isDefault           bool
}

var products = []productDef{
	{1, "Basmati Rice 5kg", 1250, 120},
	{2, "Extra Virgin Olive Oil 1L", 899, 80},
	{3, "Whole Milk 1L", 149, 200},
	{4, "Free Range Eggs (12)", 425, 150},
	{5, "Sourdough Loaf", 375, 40},
	{6, "Ground Coffee 500g", 1099, 60},
	{7, "Green Tea (40 bags)", 349, 90},
	{8, "Dark Chocolate 85%", 289, 110},
	{9, "Bananas (1kg)", 199, 300},
	{10, "Sparkling Water 6x1.5L", 549, 70},
	{11, "Seasonal Gift Box", 2999, 0},
}

var stores = []storeDef{
	{"Downtown", "12 Market Street", "Lisbon"},
	{"Riverside", "88 Quay Road", "Lisbon"},
	{"Old Town", "3 Castle Lane", "Porto"},
}

var deliveryOptions = []deliveryDef{
	{"Standard", 499, 3},
	{"Next Day", 899, 1},
	{"Economy", 299, 5},
}

var addresses = []addressDef{
	{"Home", "45 Rua Augusta", "Lisbon", true},
	{"Work", "200 Avenida da Liberdade", "Lisbon", false},
}

// Counts reports how many rows of each kind were written.
type Counts struct {
	Products        int
	Stores          int
	DeliveryOptions int
	Addresses       int
}

// Seed upserts the demo catalog, pickup stores, delivery options and the
// addresses of userID in one transaction. An empty userID skips addresses.
func Seed(ctx context.Context, db database.DBTX, userID string, logger *slog.Logger) (Counts, error) {
	var c Counts

	err := database.WithTx(ctx, db, func(tx pgx.Tx) error {
		for _, p := range products {
			if _, err := tx.Exec(ctx,
				`INSERT INTO products (id, name, price, stock, is_active)
				 VALUES ($1, $2, $3, $4, TRUE)
				 ON CONFLICT (id) DO UPDATE
				 SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = NOW()`,
				p.id, p.name, p.price, p.stock,
			); err != nil {
				return fmt.Errorf("product %q: %w", p.name, err)
			}
			c.Products++
		}
		if _, err := tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT MAX(id) FROM products))`,
		); err != nil {
			return fmt.Errorf("advance product sequence: %w", err)
		}

		for _, s := range stores {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stores (id, name, address, city, is_active)
				 VALUES ($1, $2, $3, $4, TRUE)
				 ON CONFLICT (id) DO UPDATE
				 SET name = EXCLUDED.name, address = EXCLUDED.address, city = EXCLUDED.city`,
				seedID("store", s.name), s.name, s.address, s.city,
			); err != nil {
				return fmt.Errorf("store %q: %w", s.name, err)
			}
			c.Stores++
		}

		for _, d := range deliveryOptions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO delivery_options (id, name, price, estimated_days, is_active)
				 VALUES ($1, $2, $3, $4, TRUE)
				 ON CONFLICT (id) DO UPDATE
				 SET name = EXCLUDED.name, price = EXCLUDED.price, estimated_days = EXCLUDED.estimated_days`,
				seedID("delivery", d.name), d.name, d.price, d.days,
			); err != nil {
				return fmt.Errorf("delivery option %q: %w", d.name, err)
			}
			c.DeliveryOptions++
		}

		if userID == "" {
			return nil
		}
		for _, a := range addresses {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_addresses (id, user_id, label, street, city, is_default)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE
				 SET label = EXCLUDED.label, street = EXCLUDED.street, city = EXCLUDED.city, is_default = EXCLUDED.is_default`,
				seedID("address/"+userID, a.label), userID, a.label, a.street, a.city, a.isDefault,
			); err != nil {
				return fmt.Errorf("address %q: %w", a.label, err)
			}
			c.Addresses++
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}

	logger.Info("seed data written",
		slog.Int("products", c.Products),
		slog.Int("stores", c.Stores),
		slog.Int("delivery_options", c.DeliveryOptions),
		slog.Int("addresses", c.Addresses),
	)
	return c, nil
}
