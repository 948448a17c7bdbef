package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront/pkg/tracing"
)

const tracerName = "github.com/utafrali/storefront/services/storefront/internal/service"

var (
	// SessionTransitions counts state transitions of cart sessions.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_session_transitions_total",
			Help: "Total number of cart session state transitions",
		},
		[]string{"from", "to"},
	)

	// OrderPlacements counts order placement attempts by outcome.
	OrderPlacements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_order_placements_total",
			Help: "Total number of order placement attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RemoteCallDuration observes persistence service round trips.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_remote_call_duration_seconds",
			Help:    "Duration of persistence service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	// ActiveSessions tracks the number of sessions held by the registry.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_active_sessions",
			Help: "Number of cart sessions currently held in memory",
		},
	)
)

// traceRemote starts a client span for a persistence call. The returned
// function must be called with the call's error once it completes.
func traceRemote(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "remote."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("storefront.operation", operation)),
	)

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		RemoteCallDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}
}
