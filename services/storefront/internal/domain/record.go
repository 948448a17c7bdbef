package domain

import (
	"fmt"
)

// CartRecord is the persisted form of a user's cart as returned by the
// persistence service.
type CartRecord struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Lines       []Line       `json:"lines"`
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
}

// Validate checks the invariants a record must hold before it replaces local
// state: an id, positive quantities, unique line keys and a known method.
func (r *CartRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("cart record: missing id")
	}
	seen := make(map[LineKey]struct{}, len(r.Lines))
	for _, l := range r.Lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("cart record %s: invalid product id %d", r.ID, l.ProductID)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("cart record %s: non-positive quantity for product %d", r.ID, l.ProductID)
		}
		if _, dup := seen[l.Key()]; dup {
			return fmt.Errorf("cart record %s: duplicate line for product %d variant %q", r.ID, l.ProductID, l.Variant)
		}
		seen[l.Key()] = struct{}{}
	}
	if r.Fulfillment != nil && !IsValidMethod(r.Fulfillment.Method) {
		return fmt.Errorf("cart record %s: unknown fulfillment method %q", r.ID, r.Fulfillment.Method)
	}
	return nil
}
