package service

import (
	"context"
	"time"

	"storefront/internal/models"
)

// EventPublisher is implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentAlert(ctx context.Context, event *models.PaymentAlertEvent) error
}

// Locker is implemented by redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Viewer is the authenticated caller of a read operation.
type Viewer struct {
	UserID  string
	IsAdmin bool
}

// CanSee reports whether the viewer may read the order.
func (v Viewer) CanSee(order *models.Order) bool {
	return v.IsAdmin || (v.UserID != "" && order.UserID == v.UserID)
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (noopPublisher) PublishPaymentCompleted(context.Context, *models.PaymentCompletedEvent) error {
	return nil
}

func (noopPublisher) PublishPaymentAlert(context.Context, *models.PaymentAlertEvent) error {
	return nil
}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
