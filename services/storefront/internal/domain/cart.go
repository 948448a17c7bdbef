package domain

// Owner identifies who a cart belongs to. The zero value is an anonymous shopper.
type Owner struct {
	UserID string `json:"user_id,omitempty"`
}

// Anonymous returns an owner with no persisted identity.
func Anonymous() Owner {
	return Owner{}
}

// Authenticated returns an owner bound to the given user.
func Authenticated(userID string) Owner {
	return Owner{UserID: userID}
}

// IsAuthenticated reports whether the owner carries a user identity.
func (o Owner) IsAuthenticated() bool {
	return o.UserID != ""
}

// LineKey is the natural key of a cart line. An empty Variant means the
// product was added without a variant (size, presentation, ...).
type LineKey struct {
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
}

// Product is the catalog view needed to put something in the cart.
type Product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Line is one entry in a cart. UnitPrice is the catalog price in minor units
// at the time the line was last priced and is only an estimate until the
// order is placed.
type Line struct {
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Key returns the line's natural key.
func (l Line) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Variant: l.Variant}
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Cart is the working set of a CartSession.
type Cart struct {
	// ID is the remote cart id. Empty while the owner is anonymous.
	ID          string       `json:"id,omitempty"`
	Owner       Owner        `json:"owner"`
	Lines       []Line       `json:"lines"`
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
}

// NewCart creates an empty anonymous cart.
func NewCart() *Cart {
	return &Cart{Lines: []Line{}}
}

// Total sums UnitPrice * Quantity over all lines (in minor units).
func (c *Cart) Total() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.Subtotal()
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, l := range c.Lines {
		count += l.Quantity
	}
	return count
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// FindLine returns the index of the line with the given key, or -1.
func (c *Cart) FindLine(key LineKey) int {
	for i := range c.Lines {
		if c.Lines[i].Key() == key {
			return i
		}
	}
	return -1
}

// Line returns a copy of the line with the given key.
func (c *Cart) Line(key LineKey) (Line, bool) {
	if i := c.FindLine(key); i >= 0 {
		return c.Lines[i], true
	}
	return Line{}, false
}

// Clear empties the lines and drops the fulfillment preference. The cart id
// and owner are kept so the cart can be reused for the next shopping cycle.
func (c *Cart) Clear() {
	c.Lines = []Line{}
	c.Fulfillment = nil
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := &Cart{
		ID:    c.ID,
		Owner: c.Owner,
		Lines: cloneLines(c.Lines),
	}
	if c.Fulfillment != nil {
		f := *c.Fulfillment
		cp.Fulfillment = &f
	}
	return cp
}

func cloneLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}
