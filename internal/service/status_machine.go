package service

import (
	"context"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
)

// forwardRank orders the fulfilment path. Skipping ahead is allowed, going
// back is not.
var forwardRank = map[models.OrderStatus]int{
	models.OrderStatusPending:    0,
	models.OrderStatusPaid:       1,
	models.OrderStatusProcessing: 2,
	models.OrderStatusShipped:    3,
	models.OrderStatusDelivered:  4,
}

// applyTransition moves order to next and stamps the lifecycle timestamp of
// the reached status. It reports false for a same-status no-op.
func applyTransition(order *models.Order, next models.OrderStatus, now time.Time) (bool, error) {
	if !next.Valid() {
		return false, apperr.Validation("invalid status %q", next)
	}
	if order.Status == next {
		return false, nil
	}
	if order.Status.Terminal() {
		return false, apperr.Validation("order is %s and can no longer change status", order.Status)
	}
	if next != models.OrderStatusCancelled && forwardRank[next] < forwardRank[order.Status] {
		return false, apperr.Validation("cannot move order from %s to %s", order.Status, next)
	}

	order.Status = next
	switch next {
	case models.OrderStatusPaid:
		markPaid(order, now)
	case models.OrderStatusShipped:
		markShipped(order, now)
	case models.OrderStatusDelivered:
		markDelivered(order, now)
	}
	return true, nil
}

func markPaid(order *models.Order, now time.Time) {
	if order.PaidAt == nil {
		order.PaidAt = &now
	}
}

func markShipped(order *models.Order, now time.Time) {
	if order.ShippedAt == nil {
		order.ShippedAt = &now
	}
}

func markDelivered(order *models.Order, now time.Time) {
	if order.DeliveredAt == nil {
		order.DeliveredAt = &now
	}
}

// transition is the outcome of transitionOrder.
type transition struct {
	Order   *models.Order
	From    models.OrderStatus
	Changed bool
}

// transitionOrder locks the order row, applies the transition and persists
// it. It must run inside a transaction.
func transitionOrder(ctx context.Context, q store.Querier, orderID string, next models.OrderStatus, now time.Time) (*transition, error) {
	order, err := q.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	changed, err := applyTransition(order, next, now)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := q.UpdateOrderLifecycle(ctx, order); err != nil {
			return nil, err
		}
	}
	return &transition{Order: order, From: from, Changed: changed}, nil
}

// markOrderPaid is transitionOrder for gateway settlement: an order that has
// already moved past PAID is left unchanged instead of failing.
func markOrderPaid(ctx context.Context, q store.Querier, orderID string, now time.Time) (*transition, error) {
	order, err := q.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if from != models.OrderStatusPending && from != models.OrderStatusCancelled {
		return &transition{Order: order, From: from}, nil
	}
	changed, err := applyTransition(order, models.OrderStatusPaid, now)
	if err != nil {
		return nil, err
	}
	if err := q.UpdateOrderLifecycle(ctx, order); err != nil {
		return nil, err
	}
	return &transition{Order: order, From: from, Changed: changed}, nil
}
