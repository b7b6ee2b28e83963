package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func stamp(base *models.BaseEvent, eventType string) {
	if base.EventID == "" {
		base.EventID = uuid.NewString()
	}
	base.EventType = eventType
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	stamp(&event.BaseEvent, models.EventTypeOrderCreated)
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	stamp(&event.BaseEvent, models.EventTypeOrderStatusChanged)
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	stamp(&event.BaseEvent, models.EventTypePaymentCompleted)
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentAlert publishes a reconciliation alert keyed by the gateway
// transaction id, since the order may be unknown.
func (ep *EventPublisher) PublishPaymentAlert(ctx context.Context, event *models.PaymentAlertEvent) error {
	stamp(&event.BaseEvent, models.EventTypePaymentAlert)
	return ep.producer.PublishEvent(ctx, "payment-"+event.TransactionUUID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCreated       func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onPaymentCompleted   func(context.Context, *models.PaymentCompletedEvent) error
	onPaymentAlert       func(context.Context, *models.PaymentAlertEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentCompletedEvent) error) {
	eh.onPaymentCompleted = handler
}

func (eh *EventHandler) OnPaymentAlert(handler func(context.Context, *models.PaymentAlertEvent) error) {
	eh.onPaymentAlert = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		return dispatch(ctx, msg.Value, eh.onOrderCreated)
	case models.EventTypeOrderStatusChanged:
		return dispatch(ctx, msg.Value, eh.onOrderStatusChanged)
	case models.EventTypePaymentCompleted:
		return dispatch(ctx, msg.Value, eh.onPaymentCompleted)
	case models.EventTypePaymentAlert:
		return dispatch(ctx, msg.Value, eh.onPaymentAlert)
	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

func dispatch[T any](ctx context.Context, payload []byte, handler func(context.Context, *T) error) error {
	if handler == nil {
		return nil
	}
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", event, err)
	}
	return handler(ctx, &event)
}
