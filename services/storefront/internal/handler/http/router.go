package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/storefront/internal/identity"
	"github.com/utafrali/storefront/services/storefront/internal/repository"
	"github.com/utafrali/storefront/services/storefront/internal/service"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Registry     *service.Registry
	Catalog      repository.PriceSource
	Orders       repository.OrderReader
	Verifier     *identity.Verifier
	OrderLimiter *middleware.RateLimiter
	Health       *health.Handler
	Logger       *slog.Logger
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(d.Logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(d.Logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(d.Logger))

	// Health check endpoints
	r.Get("/health/live", d.Health.LivenessHandler())
	r.Get("/health/ready", d.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	sessions := NewSessionHandler(d.Registry, d.Catalog, d.Logger)
	orders := NewOrderHandler(d.Orders, d.Logger)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", sessions.Create)

		r.Route("/{sessionId}", func(r chi.Router) {
			r.Use(sessions.LoadSession)

			r.Get("/", sessions.Get)
			r.Delete("/", sessions.Delete)

			r.Post("/auth", sessions.SignIn)
			r.Delete("/auth", sessions.SignOut)

			r.Post("/lines", sessions.AddLine)
			r.Put("/lines/{productId}", sessions.UpdateQuantity)
			r.Delete("/lines/{productId}", sessions.RemoveLine)

			r.Put("/fulfillment", sessions.ChooseFulfillment)
			r.Post("/refresh", sessions.Refresh)

			placeOrder := http.Handler(http.HandlerFunc(sessions.PlaceOrder))
			if d.OrderLimiter != nil {
				placeOrder = d.OrderLimiter.Middleware(placeOrder)
			}
			r.Method(http.MethodPost, "/orders", placeOrder)
		})
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(d.Verifier.TokenValidator()))

		r.Get("/", orders.List)
		r.Get("/{orderId}", orders.Get)
	})

	return r
}
