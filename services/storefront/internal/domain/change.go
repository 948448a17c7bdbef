package domain

// Delta is a single mutation of a cart's lines. Apply returns the line that
// must be mirrored remotely and whether it was removed. ok is false when the
// delta changed nothing.
type Delta interface {
	apply(c *Cart) (line Line, removed bool, ok bool)
}

// AddDelta adds Quantity units of a product, merging with an existing line.
type AddDelta struct {
	Product  Product
	Variant  string
	Quantity int
}

func (d AddDelta) apply(c *Cart) (Line, bool, bool) {
	key := LineKey{ProductID: d.Product.ID, Variant: d.Variant}
	if i := c.FindLine(key); i >= 0 {
		c.Lines[i].Quantity += d.Quantity
		c.Lines[i].UnitPrice = d.Product.Price
		if d.Product.Name != "" {
			c.Lines[i].Name = d.Product.Name
		}
		return c.Lines[i], false, true
	}
	line := Line{
		ProductID: d.Product.ID,
		Variant:   d.Variant,
		Name:      d.Product.Name,
		UnitPrice: d.Product.Price,
		Quantity:  d.Quantity,
	}
	c.Lines = append(c.Lines, line)
	return line, false, true
}

// SetQuantityDelta overwrites the quantity of an existing line. A quantity of
// zero or less removes the line.
type SetQuantityDelta struct {
	Key      LineKey
	Quantity int
}

func (d SetQuantityDelta) apply(c *Cart) (Line, bool, bool) {
	if d.Quantity <= 0 {
		return RemoveDelta{Key: d.Key}.apply(c)
	}
	i := c.FindLine(d.Key)
	if i < 0 {
		return Line{}, false, false
	}
	c.Lines[i].Quantity = d.Quantity
	return c.Lines[i], false, true
}

// RemoveDelta removes a line. Removing an absent line changes nothing.
type RemoveDelta struct {
	Key LineKey
}

func (d RemoveDelta) apply(c *Cart) (Line, bool, bool) {
	i := c.FindLine(d.Key)
	if i < 0 {
		return Line{}, false, false
	}
	removed := c.Lines[i]
	c.Lines = append(c.Lines[:i:i], c.Lines[i+1:]...)
	return removed, true, true
}

// Change is a tentatively applied delta. Exactly one of Confirm or Rollback
// should be called once the remote outcome is known.
type Change struct {
	cart    *Cart
	before  []Line
	Line    Line
	Removed bool
	Applied bool
	done    bool
}

// Tentative applies delta immediately and returns a handle that can undo it.
func (c *Cart) Tentative(delta Delta) *Change {
	ch := &Change{cart: c, before: cloneLines(c.Lines)}
	ch.Line, ch.Removed, ch.Applied = delta.apply(c)
	return ch
}

// Confirm keeps the applied delta.
func (ch *Change) Confirm() {
	ch.done = true
	ch.before = nil
}

// Rollback restores the lines exactly as they were before the delta.
func (ch *Change) Rollback() {
	if ch.done {
		return
	}
	ch.cart.Lines = ch.before
	ch.done = true
}
