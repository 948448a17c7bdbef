package domain

// Phase is the checkout-progress half of a session's state. Together with
// the Owner it determines the externally visible State.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseBuilding
	PhaseFulfillmentChosen
	PhasePlacing
	PhasePlaced
	PhaseFailed
)

// State is the externally visible state of a cart session.
type State string

// Session state constants.
const (
	StateEmpty                 State = "empty"
	StateBuildingAnonymous     State = "building_anonymous"
	StateBuildingAuthenticated State = "building_authenticated"
	StateFulfillmentChosen     State = "fulfillment_chosen"
	StatePlacing               State = "placing"
	StatePlaced                State = "placed"
	StateFailed                State = "failed"
)

// StateOf combines a phase and an owner into the visible state.
func StateOf(p Phase, owner Owner) State {
	switch p {
	case PhaseEmpty:
		return StateEmpty
	case PhaseBuilding:
		if owner.IsAuthenticated() {
			return StateBuildingAuthenticated
		}
		return StateBuildingAnonymous
	case PhaseFulfillmentChosen:
		return StateFulfillmentChosen
	case PhasePlacing:
		return StatePlacing
	case PhasePlaced:
		return StatePlaced
	case PhaseFailed:
		return StateFailed
	default:
		return StateEmpty
	}
}

// CanAddLine reports whether lines may be added in this phase. Placed and
// Failed start the next shopping cycle.
func (p Phase) CanAddLine() bool {
	return p != PhasePlacing
}

// CanEditLines reports whether existing lines may be changed or removed.
func (p Phase) CanEditLines() bool {
	switch p {
	case PhaseBuilding, PhaseFulfillmentChosen, PhaseFailed:
		return true
	default:
		return false
	}
}

// CanChooseFulfillment reports whether a fulfillment may be chosen.
func (p Phase) CanChooseFulfillment() bool {
	switch p {
	case PhaseBuilding, PhaseFulfillmentChosen, PhaseFailed:
		return true
	default:
		return false
	}
}

// CanPlaceOrder reports whether an order may be placed. Failed allows a retry.
func (p Phase) CanPlaceOrder() bool {
	return p == PhaseFulfillmentChosen || p == PhaseFailed
}
