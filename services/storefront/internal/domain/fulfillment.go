package domain

// Fulfillment methods.
const (
	MethodDelivery = "delivery"
	MethodPickup   = "pickup"
)

// TargetKind is what a fulfillment target id resolved to.
type TargetKind int

const (
	TargetUnknown TargetKind = iota
	TargetAddress
	TargetStore
)

func (k TargetKind) String() string {
	switch k {
	case TargetAddress:
		return "address"
	case TargetStore:
		return "store"
	default:
		return "unknown"
	}
}

// Fulfillment is the shopper's choice of how to receive the order. For
// delivery TargetID is an address id owned by the user, for pickup it is the
// id of an active store.
type Fulfillment struct {
	Method   string `json:"method"`
	TargetID string `json:"target_id"`

	// Delivery only. DeliveryFee is the option's current price and stays an
	// estimate until the order is placed.
	DeliveryOptionID string `json:"delivery_option_id,omitempty"`
	DeliveryFee      int64  `json:"delivery_fee,omitempty"`
}

// Fee returns the estimated delivery fee, zero for pickup.
func (f *Fulfillment) Fee() int64 {
	if f == nil || f.Method != MethodDelivery {
		return 0
	}
	return f.DeliveryFee
}

// IsValidMethod checks whether the given fulfillment method is known.
func IsValidMethod(method string) bool {
	return method == MethodDelivery || method == MethodPickup
}

// ExpectedTarget returns the target kind a method requires.
func ExpectedTarget(method string) TargetKind {
	switch method {
	case MethodDelivery:
		return TargetAddress
	case MethodPickup:
		return TargetStore
	default:
		return TargetUnknown
	}
}

// Address is a delivery target owned by a user.
type Address struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	Street    string `json:"street"`
	City      string `json:"city"`
	IsDefault bool   `json:"is_default"`
}

// Store is a pickup target.
type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	IsActive bool   `json:"is_active"`
}

// DeliveryOption is a delivery speed the shopper can pick, priced in minor
// units.
type DeliveryOption struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	EstimatedDays int    `json:"estimated_days"`
}
