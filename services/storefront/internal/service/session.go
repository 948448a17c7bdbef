package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
	"github.com/utafrali/storefront/services/storefront/internal/event"
	"github.com/utafrali/storefront/services/storefront/internal/identity"
	"github.com/utafrali/storefront/services/storefront/internal/repository"
)

// Cart limits.
const (
	// MaxQuantityPerLine is the maximum quantity allowed for a single line.
	MaxQuantityPerLine = 100
	// MaxLinesPerCart is the maximum number of distinct lines in a cart.
	MaxLinesPerCart = 50
)

// ChooseFulfillmentInput holds the parameters for choosing a fulfillment.
type ChooseFulfillmentInput struct {
	Method   string `json:"method" validate:"required,oneof=delivery pickup"`
	TargetID string `json:"target_id" validate:"required,max=64"`

	// DeliveryOptionID picks a delivery speed. Empty means the cheapest.
	DeliveryOptionID string `json:"delivery_option_id" validate:"omitempty,max=64"`
}

// PlaceOrderInput holds the parameters for placing an order.
type PlaceOrderInput struct {
	PaymentMethod string `json:"payment_method" validate:"required,max=32"`
	Notes         string `json:"notes" validate:"max=500"`
}

// Snapshot is a read-only view of a session. While a mirrored mutation is in
// flight it already shows the provisional change. Total covers the lines only;
// EstimatedTotal adds the delivery fee.
type Snapshot struct {
	SessionID      string                  `json:"session_id"`
	State          domain.State            `json:"state"`
	Owner          domain.Owner            `json:"owner"`
	CartID         string                  `json:"cart_id,omitempty"`
	Lines          []domain.Line           `json:"lines"`
	Fulfillment    *domain.Fulfillment     `json:"fulfillment,omitempty"`
	Total          int64                   `json:"total"`
	DeliveryFee    int64                   `json:"delivery_fee"`
	EstimatedTotal int64                   `json:"estimated_total"`
	ItemCount      int                     `json:"item_count"`
	LastOrder      *domain.PlacementResult `json:"last_order,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Carts     repository.CartRepository
	Placer    repository.OrderPlacer
	Targets   repository.TargetResolver
	Prices    repository.PriceSource
	Publisher event.Publisher
	Logger    *slog.Logger
}

// Session is one shopper's cart reconciliation and checkout state machine.
// Mutations are serialized by mu, which is held across remote calls except
// during order placement.
type Session struct {
	id   string
	deps Deps
	log  *slog.Logger

	mu        sync.Mutex
	phase     domain.Phase
	cart      *domain.Cart
	lastOrder *domain.PlacementResult

	snapshot atomic.Pointer[Snapshot]
	lastSeen atomic.Int64

	unsubscribe func()
}

// NewSession creates an empty anonymous session.
func NewSession(id string, deps Deps) *Session {
	if deps.Publisher == nil {
		deps.Publisher = event.Discard{}
	}
	s := &Session{
		id:    id,
		deps:  deps,
		log:   deps.Logger.With(slog.String("session_id", id)),
		phase: domain.PhaseEmpty,
		cart:  domain.NewCart(),
	}
	s.touch()
	s.publishLocked()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// BindIdentity makes sign-in and sign-out on p drive Authenticate and
// Deauthenticate. A user already signed in on p is authenticated right away.
func (s *Session) BindIdentity(ctx context.Context, p identity.Provider) error {
	s.unsubscribe = p.OnAuthStateChange(func(ctx context.Context, evt identity.AuthEvent) error {
		switch evt.Kind {
		case identity.SignedIn:
			_, err := s.Authenticate(ctx, evt.UserID)
			return err
		case identity.SignedOut:
			_, err := s.Deauthenticate(ctx)
			return err
		default:
			return nil
		}
	})

	if userID, ok := p.CurrentUser(); ok {
		if _, err := s.Authenticate(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches the session from its identity provider.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Snapshot returns the latest published view without waiting on in-flight
// remote calls.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// State returns the current visible state.
func (s *Session) State() domain.State {
	return s.snapshot.Load().State
}

// Total returns the best-estimate cart total in minor units.
func (s *Session) Total() int64 {
	return s.snapshot.Load().Total
}

// ItemCount returns the number of units in the cart.
func (s *Session) ItemCount() int {
	return s.snapshot.Load().ItemCount
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// AddLine adds qty units of product under variant. Adding to an existing
// line sums the quantities. The line is mirrored remotely when the session is
// authenticated.
func (s *Session) AddLine(ctx context.Context, product domain.Product, qty int, variant string) (Snapshot, error) {
	if product.ID <= 0 {
		return Snapshot{}, apperrors.InvalidInput("product id must be positive")
	}
	if product.Price < 0 {
		return Snapshot{}, apperrors.InvalidInput("price must not be negative")
	}
	if qty < 1 {
		return Snapshot{}, apperrors.InvalidInput("quantity must be at least 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !s.phase.CanAddLine() {
		return Snapshot{}, s.invalidState("add line")
	}

	key := domain.LineKey{ProductID: product.ID, Variant: variant}
	existing, found := s.cart.Line(key)
	if existing.Quantity+qty > MaxQuantityPerLine {
		return Snapshot{}, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerLine))
	}
	if !found && len(s.cart.Lines) >= MaxLinesPerCart {
		return Snapshot{}, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d lines", MaxLinesPerCart))
	}

	ch := s.cart.Tentative(domain.AddDelta{Product: product, Variant: variant, Quantity: qty})
	if err := s.mirrorLocked(ctx, ch); err != nil {
		return Snapshot{}, err
	}

	if s.cart.Fulfillment != nil {
		s.transitionLocked(domain.PhaseFulfillmentChosen)
	} else {
		s.transitionLocked(domain.PhaseBuilding)
	}
	s.publishLocked()
	s.cartUpdatedLocked(ctx)

	s.log.InfoContext(ctx, "line added",
		slog.Int64("product_id", product.ID),
		slog.String("variant", variant),
		slog.Int("quantity", ch.Line.Quantity),
	)

	return s.Snapshot(), nil
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero
// or less removes the line exactly like RemoveLine.
func (s *Session) UpdateQuantity(ctx context.Context, productID int64, variant string, qty int) (Snapshot, error) {
	if qty <= 0 {
		return s.RemoveLine(ctx, productID, variant)
	}
	if qty > MaxQuantityPerLine {
		return Snapshot{}, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerLine))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("update quantity")
	}
	if !s.cart.Owner.IsAuthenticated() {
		return Snapshot{}, domain.AuthenticationRequired("update quantity")
	}
	key := domain.LineKey{ProductID: productID, Variant: variant}
	if s.cart.FindLine(key) < 0 {
		return Snapshot{}, domain.LineNotFound(key)
	}
	if !s.phase.CanEditLines() {
		return Snapshot{}, s.invalidState("update quantity")
	}

	ch := s.cart.Tentative(domain.SetQuantityDelta{Key: key, Quantity: qty})
	if err := s.mirrorLocked(ctx, ch); err != nil {
		return Snapshot{}, err
	}

	s.publishLocked()
	s.cartUpdatedLocked(ctx)

	s.log.InfoContext(ctx, "line quantity updated",
		slog.Int64("product_id", productID),
		slog.String("variant", variant),
		slog.Int("quantity", qty),
	)

	return s.Snapshot(), nil
}

// RemoveLine removes a line locally and, when authenticated, remotely.
// Removing an absent line changes nothing and makes no remote call.
func (s *Session) RemoveLine(ctx context.Context, productID int64, variant string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("remove line")
	}

	key := domain.LineKey{ProductID: productID, Variant: variant}
	if s.cart.FindLine(key) < 0 {
		return s.Snapshot(), nil
	}

	ch := s.cart.Tentative(domain.RemoveDelta{Key: key})
	if err := s.mirrorLocked(ctx, ch); err != nil {
		return Snapshot{}, err
	}

	s.publishLocked()
	s.cartUpdatedLocked(ctx)

	s.log.InfoContext(ctx, "line removed",
		slog.Int64("product_id", productID),
		slog.String("variant", variant),
	)

	return s.Snapshot(), nil
}

// Authenticate binds the session to userID. If the user's server cart
// already has lines they replace the local ones; otherwise the local lines
// are pushed to the server. A failed push is compensated and leaves the
// session anonymous with its lines intact. Switching users only drops the
// previous user's cart once the new one has been fetched.
func (s *Session) Authenticate(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, apperrors.InvalidInput("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("authenticate")
	}
	if s.cart.Owner.UserID == userID {
		return s.Snapshot(), nil
	}
	rec, err := s.fetchCartLocked(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if s.cart.Owner.IsAuthenticated() {
		s.deauthenticateLocked(ctx)
	}

	if len(rec.Lines) > 0 {
		s.log.InfoContext(ctx, "server cart replaces local lines",
			slog.String("user_id", userID),
			slog.Int("server_lines", len(rec.Lines)),
			slog.Int("discarded_lines", len(s.cart.Lines)),
		)
		s.cart.Lines = rec.Lines
	} else if err := s.pushLinesLocked(ctx, rec.ID); err != nil {
		return Snapshot{}, err
	}

	s.cart.ID = rec.ID
	s.cart.Owner = domain.Authenticated(userID)
	s.cart.Fulfillment = rec.Fulfillment
	if s.cart.Fulfillment != nil {
		s.transitionLocked(domain.PhaseFulfillmentChosen)
	} else {
		s.transitionLocked(domain.PhaseBuilding)
	}
	s.publishLocked()
	s.cartUpdatedLocked(ctx)

	s.log.InfoContext(ctx, "session authenticated",
		slog.String("user_id", userID),
		slog.String("cart_id", rec.ID),
		slog.Int("lines", len(s.cart.Lines)),
	)

	return s.Snapshot(), nil
}

// pushLinesLocked upserts every local line into cartID. On failure the lines
// already pushed are deleted again, best effort.
func (s *Session) pushLinesLocked(ctx context.Context, cartID string) error {
	pushed := make([]domain.LineKey, 0, len(s.cart.Lines))
	for _, line := range s.cart.Lines {
		rctx, end := traceRemote(ctx, "upsert_cart_line")
		err := s.deps.Carts.UpsertCartLine(rctx, cartID, line)
		end(err)
		if err == nil {
			pushed = append(pushed, line.Key())
			continue
		}

		for _, key := range pushed {
			cctx, end := traceRemote(ctx, "delete_cart_line")
			derr := s.deps.Carts.DeleteCartLine(cctx, cartID, key)
			end(derr)
			if derr != nil {
				s.log.WarnContext(ctx, "failed to compensate pushed line",
					slog.String("cart_id", cartID),
					slog.Int64("product_id", key.ProductID),
					slog.String("error", derr.Error()),
				)
			}
		}
		return s.remoteError(ctx, "push local lines", err)
	}
	return nil
}

// Deauthenticate returns an authenticated session to an empty anonymous
// cart. The server cart stays with the signed-out user.
func (s *Session) Deauthenticate(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("deauthenticate")
	}
	if !s.cart.Owner.IsAuthenticated() {
		return s.Snapshot(), nil
	}

	s.deauthenticateLocked(ctx)
	s.publishLocked()
	return s.Snapshot(), nil
}

func (s *Session) deauthenticateLocked(ctx context.Context) {
	prev := s.cart.Owner.UserID
	s.cart = domain.NewCart()
	s.lastOrder = nil
	s.transitionLocked(domain.PhaseEmpty)
	s.log.InfoContext(ctx, "session deauthenticated", slog.String("user_id", prev))
}

// ChooseFulfillment validates the target against the method and stores the
// preference remotely.
func (s *Session) ChooseFulfillment(ctx context.Context, in ChooseFulfillmentInput) (Snapshot, error) {
	if err := validator.Validate(in); err != nil {
		return Snapshot{}, apperrors.InvalidInput(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("choose fulfillment")
	}
	if !s.cart.Owner.IsAuthenticated() {
		return Snapshot{}, domain.AuthenticationRequired("choose fulfillment")
	}
	if !s.phase.CanChooseFulfillment() {
		return Snapshot{}, s.invalidState("choose fulfillment")
	}
	if in.Method != domain.MethodDelivery && in.DeliveryOptionID != "" {
		return Snapshot{}, apperrors.InvalidInput("delivery_option_id is only valid for delivery")
	}

	rctx, end := traceRemote(ctx, "resolve_target")
	kind, err := s.deps.Targets.ResolveTarget(rctx, s.cart.Owner.UserID, in.TargetID)
	end(err)
	if err != nil {
		return Snapshot{}, s.remoteError(ctx, "resolve fulfillment target", err)
	}
	if kind != domain.ExpectedTarget(in.Method) {
		s.log.InfoContext(ctx, "fulfillment target rejected",
			slog.String("method", in.Method),
			slog.String("target_id", in.TargetID),
			slog.String("resolved", kind.String()),
		)
		return Snapshot{}, domain.InvalidFulfillmentTarget(in.Method, in.TargetID)
	}

	next := &domain.Fulfillment{Method: in.Method, TargetID: in.TargetID}
	if in.Method == domain.MethodDelivery {
		rctx, end = traceRemote(ctx, "resolve_delivery_option")
		opt, err := s.deps.Targets.ResolveDeliveryOption(rctx, in.DeliveryOptionID)
		end(err)
		if err != nil {
			return Snapshot{}, s.remoteError(ctx, "resolve delivery option", err)
		}
		if opt == nil && in.DeliveryOptionID != "" {
			return Snapshot{}, domain.InvalidFulfillmentTarget("delivery option", in.DeliveryOptionID)
		}
		if opt != nil {
			next.DeliveryOptionID = opt.ID
			next.DeliveryFee = opt.Price
		}
	}

	prev := s.cart.Fulfillment
	s.cart.Fulfillment = next
	s.publishLocked()

	rctx, end = traceRemote(ctx, "set_cart_fulfillment")
	err = s.deps.Carts.SetCartFulfillment(rctx, s.cart.ID, s.cart.Fulfillment)
	end(err)
	if err != nil {
		s.cart.Fulfillment = prev
		s.publishLocked()
		return Snapshot{}, s.remoteError(ctx, "set cart fulfillment", err)
	}

	if s.phase != domain.PhaseFailed {
		s.transitionLocked(domain.PhaseFulfillmentChosen)
	}
	s.publishLocked()

	s.log.InfoContext(ctx, "fulfillment chosen",
		slog.String("method", in.Method),
		slog.String("target_id", in.TargetID),
		slog.String("delivery_option_id", next.DeliveryOptionID),
	)

	return s.Snapshot(), nil
}

// PlaceOrder performs exactly one atomic placement call. While it is in
// flight the session is Placing and a second PlaceOrder fails immediately
// with OrderAlreadyInFlight. On success the cart is emptied; on failure lines
// and fulfillment are left untouched.
func (s *Session) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.PlacementResult, error) {
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	s.mu.Lock()
	s.touch()
	if s.phase == domain.PhasePlacing {
		s.mu.Unlock()
		OrderPlacements.WithLabelValues("in_flight").Inc()
		return nil, domain.OrderAlreadyInFlight()
	}
	if !s.cart.Owner.IsAuthenticated() {
		s.mu.Unlock()
		return nil, domain.AuthenticationRequired("place order")
	}
	if !s.phase.CanPlaceOrder() || s.cart.Fulfillment == nil {
		err := s.invalidState("place order")
		s.mu.Unlock()
		return nil, err
	}
	if s.cart.IsEmpty() {
		s.mu.Unlock()
		return nil, domain.EmptyCart()
	}

	req := domain.PlaceOrderRequest{
		UserID:        s.cart.Owner.UserID,
		CartID:        s.cart.ID,
		Fulfillment:   *s.cart.Fulfillment,
		PaymentMethod: in.PaymentMethod,
		Notes:         in.Notes,
	}
	placed := s.cart.Clone()
	s.transitionLocked(domain.PhasePlacing)
	s.publishLocked()
	s.mu.Unlock()

	rctx, end := traceRemote(ctx, "place_order")
	res, err := s.deps.Placer.PlaceOrder(rctx, req)
	if err == nil && (res == nil || res.OrderID == "") {
		err = errors.New("placement returned no order id")
	}
	end(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.transitionLocked(domain.PhaseFailed)
		s.publishLocked()

		var pe *domain.PlacementError
		if errors.As(err, &pe) {
			OrderPlacements.WithLabelValues("rejected").Inc()
			s.log.WarnContext(ctx, "order placement rejected",
				slog.String("cart_id", req.CartID),
				slog.String("reason", pe.Reason),
			)
			return nil, domain.OrderPlacementFailed(pe)
		}
		OrderPlacements.WithLabelValues("error").Inc()
		return nil, s.remoteError(ctx, "place order", err)
	}

	OrderPlacements.WithLabelValues("placed").Inc()
	s.cart.Clear()
	s.lastOrder = res
	s.transitionLocked(domain.PhasePlaced)
	s.publishLocked()

	s.log.InfoContext(ctx, "order placed",
		slog.String("order_id", res.OrderID),
		slog.String("cart_id", req.CartID),
		slog.Int64("total_amount", res.TotalAmount),
	)

	if perr := s.deps.Publisher.PublishOrderPlaced(ctx, event.OrderPlacedData{
		OrderID:           res.OrderID,
		UserID:            req.UserID,
		FulfillmentMethod: req.Fulfillment.Method,
		TargetID:          req.Fulfillment.TargetID,
		PaymentMethod:     req.PaymentMethod,
		TotalAmount:       res.TotalAmount,
		ItemCount:         placed.ItemCount(),
	}); perr != nil {
		s.log.ErrorContext(ctx, "failed to publish order.placed event",
			slog.String("order_id", res.OrderID),
			slog.String("error", perr.Error()),
		)
	}
	if perr := s.deps.Publisher.PublishCartCleared(ctx, s.cart, res.OrderID); perr != nil {
		s.log.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("cart_id", s.cart.ID),
			slog.String("error", perr.Error()),
		)
	}

	return res, nil
}

// Refresh overwrites local lines and fulfillment with the server cart.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("refresh")
	}
	if !s.cart.Owner.IsAuthenticated() {
		return Snapshot{}, domain.AuthenticationRequired("refresh")
	}

	rec, err := s.fetchCartLocked(ctx, s.cart.Owner.UserID)
	if err != nil {
		return Snapshot{}, err
	}

	s.cart.ID = rec.ID
	s.cart.Lines = rec.Lines
	s.cart.Fulfillment = rec.Fulfillment

	switch {
	case s.cart.IsEmpty() && s.cart.Fulfillment == nil && (s.phase == domain.PhaseEmpty || s.phase == domain.PhasePlaced):
	case s.phase == domain.PhaseFailed && s.cart.Fulfillment != nil:
	case s.cart.Fulfillment != nil:
		s.transitionLocked(domain.PhaseFulfillmentChosen)
	default:
		s.transitionLocked(domain.PhaseBuilding)
	}
	s.publishLocked()

	return s.Snapshot(), nil
}

// RefreshPrices re-prices every line from the catalog, bypassing any price
// cache. Products missing from the catalog keep their last known price.
func (s *Session) RefreshPrices(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase == domain.PhasePlacing {
		return Snapshot{}, s.invalidState("refresh prices")
	}
	if s.cart.IsEmpty() {
		return s.Snapshot(), nil
	}

	ids := make([]int64, 0, len(s.cart.Lines))
	for _, l := range s.cart.Lines {
		ids = append(ids, l.ProductID)
	}

	if inv, ok := s.deps.Prices.(repository.PriceInvalidator); ok {
		if err := inv.Invalidate(ctx, ids...); err != nil {
			s.log.WarnContext(ctx, "price cache invalidation failed",
				slog.String("error", err.Error()),
			)
		}
	}

	rctx, end := traceRemote(ctx, "get_prices")
	prices, err := s.deps.Prices.GetPrices(rctx, ids)
	end(err)
	if err != nil {
		return Snapshot{}, s.remoteError(ctx, "get prices", err)
	}

	for i := range s.cart.Lines {
		if p, ok := prices[s.cart.Lines[i].ProductID]; ok {
			s.cart.Lines[i].UnitPrice = p
		}
	}
	s.publishLocked()

	return s.Snapshot(), nil
}

// fetchCartLocked loads and validates the user's server cart.
func (s *Session) fetchCartLocked(ctx context.Context, userID string) (*domain.CartRecord, error) {
	rctx, end := traceRemote(ctx, "get_or_create_cart")
	rec, err := s.deps.Carts.GetOrCreateCart(rctx, userID)
	if err == nil {
		if rec == nil {
			err = errors.New("empty cart record")
		} else {
			err = rec.Validate()
		}
	}
	end(err)
	if err != nil {
		return nil, s.remoteError(ctx, "get or create cart", err)
	}
	lines := make([]domain.Line, len(rec.Lines))
	copy(lines, rec.Lines)
	rec.Lines = lines
	return rec, nil
}

// mirrorLocked publishes the provisional change, writes it remotely when the
// session is authenticated, then confirms or rolls it back.
func (s *Session) mirrorLocked(ctx context.Context, ch *domain.Change) error {
	if !ch.Applied {
		ch.Confirm()
		return nil
	}
	if !s.cart.Owner.IsAuthenticated() {
		ch.Confirm()
		return nil
	}

	s.publishLocked()

	var (
		op  string
		err error
	)
	if ch.Removed {
		op = "delete_cart_line"
		rctx, end := traceRemote(ctx, op)
		err = s.deps.Carts.DeleteCartLine(rctx, s.cart.ID, ch.Line.Key())
		end(err)
	} else {
		op = "upsert_cart_line"
		rctx, end := traceRemote(ctx, op)
		err = s.deps.Carts.UpsertCartLine(rctx, s.cart.ID, ch.Line)
		end(err)
	}

	if err != nil {
		ch.Rollback()
		s.publishLocked()
		return s.remoteError(ctx, op, err)
	}
	ch.Confirm()
	return nil
}

// remoteError maps a collaborator failure onto the error taxonomy.
func (s *Session) remoteError(ctx context.Context, op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	s.log.ErrorContext(ctx, "persistence call failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return domain.NetworkFailure(op, err)
}

func (s *Session) invalidState(op string) error {
	return domain.InvalidState(op, domain.StateOf(s.phase, s.cart.Owner))
}

func (s *Session) transitionLocked(to domain.Phase) {
	from := domain.StateOf(s.phase, s.cart.Owner)
	s.phase = to
	if next := domain.StateOf(to, s.cart.Owner); next != from {
		SessionTransitions.WithLabelValues(string(from), string(next)).Inc()
	}
}

func (s *Session) publishLocked() {
	cp := s.cart.Clone()
	fee := cp.Fulfillment.Fee()
	snap := &Snapshot{
		SessionID:      s.id,
		State:          domain.StateOf(s.phase, s.cart.Owner),
		Owner:          cp.Owner,
		CartID:         cp.ID,
		Lines:          cp.Lines,
		Fulfillment:    cp.Fulfillment,
		Total:          cp.Total(),
		DeliveryFee:    fee,
		EstimatedTotal: cp.Total() + fee,
		ItemCount:      cp.ItemCount(),
		LastOrder:      s.lastOrder,
		UpdatedAt:      time.Now().UTC(),
	}
	s.snapshot.Store(snap)
}

func (s *Session) cartUpdatedLocked(ctx context.Context) {
	if !s.cart.Owner.IsAuthenticated() {
		return
	}
	if err := s.deps.Publisher.PublishCartUpdated(ctx, s.cart.Clone()); err != nil {
		s.log.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("cart_id", s.cart.ID),
			slog.String("error", err.Error()),
		)
	}
}
