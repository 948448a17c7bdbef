package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/pkg/validator"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
	"github.com/utafrali/storefront/services/storefront/internal/repository"
)

// OrderHandler serves the signed-in user's order history.
type OrderHandler struct {
	orders repository.OrderReader
	logger *slog.Logger
}

// NewOrderHandler creates a new order history HTTP handler.
func NewOrderHandler(orders repository.OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// List handles GET /api/v1/orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	params := pagination.FromRequest(r)

	orders, total, err := h.orders.ListOrders(r.Context(), userID, params)
	if err != nil {
		httputil.WriteError(w, r, remoteError("list orders", err), h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(orders, total, params))
}

// Get handles GET /api/v1/orders/{orderId}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if err := validator.Var("orderId", orderID, "uuid"); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), middleware.UserIDFromContext(r.Context()), orderID)
	if err != nil {
		httputil.WriteError(w, r, remoteError("get order", err), h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, order)
}

// remoteError keeps classified errors and reports anything else as the
// persistence service being unreachable.
func remoteError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return domain.NetworkFailure(op, err)
}
