package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
)

// Kafka topic constants for storefront domain events.
const (
	TopicCartUpdated = "storefront.cart.updated"
	TopicCartCleared = "storefront.cart.cleared"
	TopicOrderPlaced = "storefront.order.placed"
)

// Aggregate type constants.
const (
	AggregateTypeCart  = "cart"
	AggregateTypeOrder = "order"
)

// SourceStorefront identifies events originating from this service.
const SourceStorefront = "storefront-service"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	CartID      string        `json:"cart_id"`
	UserID      string        `json:"user_id"`
	Lines       []domain.Line `json:"lines"`
	ItemCount   int           `json:"item_count"`
	TotalAmount int64         `json:"total_amount"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	CartID  string `json:"cart_id"`
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id,omitempty"`
}

// OrderPlacedData is the payload for an order.placed event.
type OrderPlacedData struct {
	OrderID           string `json:"order_id"`
	UserID            string `json:"user_id"`
	FulfillmentMethod string `json:"fulfillment_method"`
	TargetID          string `json:"target_id"`
	PaymentMethod     string `json:"payment_method"`
	TotalAmount       int64  `json:"total_amount"`
	ItemCount         int    `json:"item_count"`
}

// Publisher is what the session service needs from an event sink. Publish
// failures are reported but never change the outcome of an operation.
type Publisher interface {
	PublishCartUpdated(ctx context.Context, cart *domain.Cart) error
	PublishCartCleared(ctx context.Context, cart *domain.Cart, orderID string) error
	PublishOrderPlaced(ctx context.Context, data OrderPlacedData) error
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	data := CartUpdatedData{
		CartID:      cart.ID,
		UserID:      cart.Owner.UserID,
		Lines:       cart.Lines,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.Total(),
	}
	return p.publish(ctx, TopicCartUpdated, cart.ID, AggregateTypeCart, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, cart *domain.Cart, orderID string) error {
	data := CartClearedData{
		CartID:  cart.ID,
		UserID:  cart.Owner.UserID,
		OrderID: orderID,
	}
	return p.publish(ctx, TopicCartCleared, cart.ID, AggregateTypeCart, data)
}

// PublishOrderPlaced publishes an order.placed event.
func (p *Producer) PublishOrderPlaced(ctx context.Context, data OrderPlacedData) error {
	return p.publish(ctx, TopicOrderPlaced, data.OrderID, AggregateTypeOrder, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEventFromContext(ctx, topic, aggregateID, aggregateType, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// Discard is a Publisher that drops every event. It is used when no brokers
// are configured.
type Discard struct{}

func (Discard) PublishCartUpdated(context.Context, *domain.Cart) error         { return nil }
func (Discard) PublishCartCleared(context.Context, *domain.Cart, string) error { return nil }
func (Discard) PublishOrderPlaced(context.Context, OrderPlacedData) error      { return nil }
