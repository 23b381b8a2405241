package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront-cart/internal/domain"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

// Cart event types. Each is published on pkgkafka.Topic(AggregateTypeCart, action).
const (
	ActionUpdated     = "updated"
	ActionItemRemoved = "item_removed"
	ActionCleared     = "cleared"
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// Topics for cart domain events.
var (
	TopicCartUpdated     = pkgkafka.Topic(AggregateTypeCart, ActionUpdated)
	TopicCartItemRemoved = pkgkafka.Topic(AggregateTypeCart, ActionItemRemoved)
	TopicCartCleared     = pkgkafka.Topic(AggregateTypeCart, ActionCleared)
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	CartID      string         `json:"cart_id"`
	UserID      string         `json:"user_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Items       []CartItemData `json:"items"`
	TotalItems  int            `json:"total_items"`
	TotalAmount string         `json:"total_amount"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ItemID      string `json:"item_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// CartItemRemovedData is the payload for a cart.item_removed event.
type CartItemRemovedData struct {
	CartID string       `json:"cart_id"`
	Item   CartItemData `json:"item"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	CartID string `json:"cart_id"`
}

// publisher is the part of *pkgkafka.Producer the event producer uses.
type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(kafka publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event carrying the cart as
// stored after the mutation.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i := range cart.Items {
		items[i] = itemData(&cart.Items[i])
	}

	data := CartUpdatedData{
		CartID:      cart.ID,
		UserID:      cart.UserID,
		SessionID:   cart.SessionID,
		Items:       items,
		TotalItems:  cart.ItemCount(),
		TotalAmount: cart.TotalAmount().StringFixed(2),
	}

	if err := p.publish(ctx, TopicCartUpdated, cart.ID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("cart_id", cart.ID),
		slog.Int("total_items", data.TotalItems),
	)
	return nil
}

// PublishItemRemoved publishes a cart.item_removed event.
func (p *Producer) PublishItemRemoved(ctx context.Context, item *domain.CartItem) error {
	data := CartItemRemovedData{CartID: item.CartID, Item: itemData(item)}

	if err := p.publish(ctx, TopicCartItemRemoved, item.CartID, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.item_removed event",
		slog.String("cart_id", item.CartID),
		slog.String("item_id", item.ID),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, cartID string) error {
	if err := p.publish(ctx, TopicCartCleared, cartID, CartClearedData{CartID: cartID}); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("cart_id", cartID),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, cartID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, SourceCartService, pkgkafka.Aggregate{ID: cartID, Type: AggregateTypeCart}, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event = event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

func itemData(item *domain.CartItem) CartItemData {
	return CartItemData{
		ItemID:      item.ID,
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		UnitPrice:   item.UnitPrice.StringFixed(2),
		Quantity:    item.Quantity,
	}
}

// Noop discards every event. It stands in for Producer when Kafka is
// disabled.
type Noop struct{}

func (Noop) PublishCartUpdated(context.Context, *domain.Cart) error     { return nil }
func (Noop) PublishItemRemoved(context.Context, *domain.CartItem) error { return nil }
func (Noop) PublishCartCleared(context.Context, string) error           { return nil }
