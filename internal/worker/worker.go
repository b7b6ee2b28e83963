package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// source is satisfied by broker.Consumer.
type source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker consumes the shop's own event topic and writes the audit
// trail operators watch: order lifecycle at info level, reconciliation alerts
// at error level.
type NotificationWorker struct {
	consumer     source
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer source) *NotificationWorker {
	return newNotificationWorker(consumer, util.GetLogger().Named("notifications"))
}

func newNotificationWorker(consumer source, logger *zap.Logger) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       logger,
	}

	w.eventHandler.OnOrderCreated(w.orderCreated)
	w.eventHandler.OnOrderStatusChanged(w.orderStatusChanged)
	w.eventHandler.OnPaymentCompleted(w.paymentCompleted)
	w.eventHandler.OnPaymentAlert(w.paymentAlert)
	return w
}

// Start blocks until ctx is cancelled or the consumer fails.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) orderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	w.logger.Info("Order placed",
		zap.String("event_id", e.EventID),
		zap.String("order_number", e.OrderNumber),
		zap.String("user_id", e.UserID),
		zap.String("total", e.Total.String()),
		zap.Int("items", len(e.Items)))
	return nil
}

func (w *NotificationWorker) orderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	w.logger.Info("Order status changed",
		zap.String("event_id", e.EventID),
		zap.String("order_number", e.OrderNumber),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)))
	return nil
}

func (w *NotificationWorker) paymentCompleted(_ context.Context, e *models.PaymentCompletedEvent) error {
	w.logger.Info("Payment received",
		zap.String("event_id", e.EventID),
		zap.String("order_number", e.OrderNumber),
		zap.String("transaction_id", e.TransactionID),
		zap.String("amount", e.Amount.String()))
	return nil
}

func (w *NotificationWorker) paymentAlert(_ context.Context, e *models.PaymentAlertEvent) error {
	w.logger.Error("Payment needs manual reconciliation",
		zap.String("event_id", e.EventID),
		zap.String("reason", e.Reason),
		zap.String("transaction_uuid", e.TransactionUUID),
		zap.String("transaction_code", e.TransactionCode),
		zap.String("total_amount", e.TotalAmount))
	return nil
}
