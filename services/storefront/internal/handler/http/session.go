package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
	"github.com/utafrali/storefront/services/storefront/internal/repository"
	"github.com/utafrali/storefront/services/storefront/internal/service"
)

type handleKey struct{}

// SessionHandler handles HTTP requests for cart session endpoints.
type SessionHandler struct {
	registry *service.Registry
	catalog  repository.PriceSource
	logger   *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(registry *service.Registry, catalog repository.PriceSource, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		catalog:  catalog,
		logger:   logger,
	}
}

// --- Request DTOs ---

// SignInRequest is the JSON request body for signing a session in.
type SignInRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// AddLineRequest is the JSON request body for adding a line. The unit price
// is always taken from the catalog.
type AddLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Variant   string `json:"variant" validate:"max=64"`
	Name      string `json:"name" validate:"max=200"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// UpdateQuantityRequest is the JSON request body for setting a line's
// quantity. Zero removes the line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

// PlaceOrderResponse is returned by a successful placement.
type PlaceOrderResponse struct {
	Order   *domain.PlacementResult `json:"order"`
	Session service.Snapshot        `json:"session"`
}

// --- Middleware ---

// LoadSession resolves {sessionId} from the registry and tags the request
// logger with it.
func (h *SessionHandler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")
		handle, err := h.registry.Get(id)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}

		ctx := logger.WithSessionID(r.Context(), id)
		ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("session_id", id)))
		ctx = context.WithValue(ctx, handleKey{}, handle)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func handleFrom(r *http.Request) *service.Handle {
	return r.Context().Value(handleKey{}).(*service.Handle)
}

// --- Handlers ---

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	handle, err := h.registry.Create(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+handle.Session.ID())
	httputil.WriteData(w, http.StatusCreated, handle.Session.Snapshot())
}

// Get handles GET /api/v1/sessions/{sessionId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, handleFrom(r).Session.Snapshot())
}

// Delete handles DELETE /api/v1/sessions/{sessionId}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.registry.Delete(handleFrom(r).Session.ID())
	w.WriteHeader(http.StatusNoContent)
}

// SignIn handles POST /api/v1/sessions/{sessionId}/auth
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	handle := handleFrom(r)
	if _, err := handle.Identity.SignIn(r.Context(), req.AccessToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, handle.Session.Snapshot())
}

// SignOut handles DELETE /api/v1/sessions/{sessionId}/auth
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	handle := handleFrom(r)
	if err := handle.Identity.SignOut(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, handle.Session.Snapshot())
}

// AddLine handles POST /api/v1/sessions/{sessionId}/lines
func (h *SessionHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req AddLineRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	prices, err := h.catalog.GetPrices(r.Context(), []int64{req.ProductID})
	if err != nil {
		httputil.WriteError(w, r, domain.NetworkFailure("get prices", err), h.logger)
		return
	}
	price, ok := prices[req.ProductID]
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("product", strconv.FormatInt(req.ProductID, 10)), h.logger)
		return
	}

	product := domain.Product{ID: req.ProductID, Name: req.Name, Price: price}
	snap, err := handleFrom(r).Session.AddLine(r.Context(), product, req.Quantity, req.Variant)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, snap)
}

// UpdateQuantity handles PUT /api/v1/sessions/{sessionId}/lines/{productId}?variant=
func (h *SessionHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseInt64(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	variant := r.URL.Query().Get("variant")
	snap, err := handleFrom(r).Session.UpdateQuantity(r.Context(), productID, variant, *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, snap)
}

// RemoveLine handles DELETE /api/v1/sessions/{sessionId}/lines/{productId}?variant=
func (h *SessionHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseInt64(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	variant := r.URL.Query().Get("variant")
	snap, err := handleFrom(r).Session.RemoveLine(r.Context(), productID, variant)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, snap)
}

// ChooseFulfillment handles PUT /api/v1/sessions/{sessionId}/fulfillment
func (h *SessionHandler) ChooseFulfillment(w http.ResponseWriter, r *http.Request) {
	var in service.ChooseFulfillmentInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}

	snap, err := handleFrom(r).Session.ChooseFulfillment(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, snap)
}

// Refresh handles POST /api/v1/sessions/{sessionId}/refresh. Signed-in
// sessions reload the server cart first; every session is then re-priced.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess := handleFrom(r).Session

	if sess.Snapshot().Owner.IsAuthenticated() {
		if _, err := sess.Refresh(r.Context()); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	snap, err := sess.RefreshPrices(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, snap)
}

// PlaceOrder handles POST /api/v1/sessions/{sessionId}/orders
func (h *SessionHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in service.PlaceOrderInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}

	sess := handleFrom(r).Session
	res, err := sess.PlaceOrder(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	logger.FromContext(r.Context()).InfoContext(r.Context(), "order placed",
		slog.String("order_id", res.OrderID),
		slog.Int64("total_amount", res.TotalAmount),
	)
	httputil.WriteData(w, http.StatusCreated, PlaceOrderResponse{Order: res, Session: sess.Snapshot()})
}
