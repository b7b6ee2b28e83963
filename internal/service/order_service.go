package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	repo           store.Repository
	pricing        *pricing.Engine
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, engine *pricing.Engine, eventPublisher EventPublisher) *OrderService {
	return &OrderService{
		repo:           repo,
		pricing:        engine,
		eventPublisher: publisherOrNoop(eventPublisher),
		logger:         util.GetLogger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput represents a checkout request
type CreateOrderInput struct {
	UserID            string
	CartID            string
	ShippingAddressID *string
	CouponCode        string
	Notes             *string
}

// CreateOrder turns the user's cart into a PENDING order. Order, items,
// coupon usage and cart clearing are written in one transaction, so a
// failure leaves the cart and the coupon untouched.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if in.UserID == "" || in.CartID == "" {
		return nil, apperr.Validation("user and cart are required")
	}

	var (
		order *models.Order
		items []models.OrderItem
	)
	err := s.repo.WithTx(ctx, func(q store.Querier) error {
		cart, err := q.GetCartByOwner(ctx, models.UserOwner(in.UserID))
		if errors.Is(err, apperr.ErrNotFound) || (err == nil && cart.ID != in.CartID) {
			return apperr.Forbidden("cart does not belong to user")
		}
		if err != nil {
			return err
		}
		if err := q.LockCart(ctx, cart.ID); err != nil {
			return err
		}

		lines, err := q.GetCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperr.ErrEmptyCart
		}

		if in.ShippingAddressID != nil {
			addr, err := q.GetAddress(ctx, *in.ShippingAddressID)
			if err != nil {
				return err
			}
			if addr.UserID != in.UserID {
				return apperr.Forbidden("shipping address does not belong to user")
			}
		}

		var coupon *models.Coupon
		if pricing.NormalizeCode(in.CouponCode) != "" {
			if coupon, err = lookupCoupon(ctx, q, in.CouponCode); err != nil {
				return err
			}
		}

		totals, err := s.pricing.Compute(pricing.LinesFromCart(lines), coupon)
		if err != nil {
			return err
		}

		number, err := generateOrderNumber(s.now())
		if err != nil {
			return err
		}

		order = &models.Order{
			OrderNumber:       number,
			UserID:            in.UserID,
			Status:            models.OrderStatusPending,
			Subtotal:          totals.Subtotal,
			Tax:               totals.Tax,
			ShippingCost:      totals.ShippingCost,
			Discount:          totals.Discount,
			Total:             totals.Total,
			ShippingAddressID: in.ShippingAddressID,
			Notes:             in.Notes,
		}
		if coupon != nil {
			order.CouponID = &coupon.ID
		}
		if err := q.CreateOrder(ctx, order); err != nil {
			return err
		}

		items = make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				VariantID:   line.VariantID,
				ProductName: line.ProductName,
				VariantName: line.VariantName,
				Quantity:    line.Quantity,
				Price:       line.Price,
				Total:       models.NewMoney(line.LineTotal()),
			}
			if err := q.CreateOrderItem(ctx, &item); err != nil {
				return err
			}
			items = append(items, item)
		}

		if coupon != nil {
			ok, err := q.IncrementCouponUsage(ctx, coupon.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("this coupon has reached its usage limit")
			}
		}

		return q.ClearCart(ctx, cart.ID)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	if order.CouponID != nil {
		util.CouponRedemptionsTotal.Inc()
	}
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.String()))

	s.publishOrderCreated(ctx, order, items)
	return order, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		data = append(data, models.OrderItemData{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.Price})
	}
	event := &models.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Total,
		CouponID:    order.CouponID,
		Items:       data,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrNotFound):
		return "not_allowed"
	default:
		return "db_error"
	}
}

// generateOrderNumber returns ORD-<base36 unix millis>-<random hex>, upper-cased.
func generateOrderNumber(now time.Time) (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%s",
		strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		strings.ToUpper(hex.EncodeToString(b[:])),
	), nil
}

// Quote prices the owner's cart the same way CreateOrder will charge it.
func (s *OrderService) Quote(ctx context.Context, owner models.CartOwner, couponCode string) (*pricing.Totals, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Quote")
	defer span.End()

	cart, err := s.repo.GetCartByOwner(ctx, owner)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	var coupon *models.Coupon
	if pricing.NormalizeCode(couponCode) != "" {
		if coupon, err = lookupCoupon(ctx, s.repo, couponCode); err != nil {
			return nil, err
		}
	}

	totals, err := s.pricing.Compute(pricing.LinesFromCart(lines), coupon)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// OrderDetail is an order with its lines, shipping address and latest payment.
type OrderDetail struct {
	*models.Order
	Items           []models.OrderItem `json:"items"`
	ShippingAddress *models.Address    `json:"shipping_address,omitempty"`
	Payment         *models.Payment    `json:"payment,omitempty"`
}

// GetOrder returns an order the viewer owns, or any order for admins.
func (s *OrderService) GetOrder(ctx context.Context, viewer Viewer, orderID string) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !viewer.CanSee(order) {
		return nil, apperr.Forbidden("order %s", orderID)
	}

	detail, err := s.detail(ctx, order)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.GetLatestPaymentByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

// TrackOrder looks an order up by its public number. No authentication is
// needed, so payment data is left out.
func (s *OrderService) TrackOrder(ctx context.Context, orderNumber string) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, order)
}

func (s *OrderService) detail(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: order, Items: items}

	if order.ShippingAddressID != nil {
		addr, err := s.repo.GetAddress(ctx, *order.ShippingAddressID)
		switch {
		case err == nil:
			detail.ShippingAddress = addr
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	return detail, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, apperr.Validation("user is required")
	}
	return s.repo.ListOrders(ctx, userID)
}

// ListAllOrders returns every order for the admin panel.
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	return s.repo.ListOrders(ctx, "")
}

func (s *OrderService) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Dashboard")
	defer span.End()
	return s.repo.GetDashboardStats(ctx)
}

// SetStatus applies an admin status change. Moves go forward along
// PENDING, PAID, PROCESSING, SHIPPED, DELIVERED (skips allowed); CANCELLED is
// reachable from any non-terminal status; repeating the current status is a
// no-op that leaves timestamps alone.
func (s *OrderService) SetStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus")
	defer span.End()

	var result *transition
	err := s.repo.WithTx(ctx, func(q store.Querier) error {
		var err error
		result, err = transitionOrder(ctx, q, orderID, status, s.now())
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if result.Changed {
		s.afterTransition(ctx, result)
	}
	return result.Order, nil
}

// MarkPaid moves a PENDING order to PAID. An order already past PAID is left
// as it is.
func (s *OrderService) MarkPaid(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid")
	defer span.End()

	var result *transition
	err := s.repo.WithTx(ctx, func(q store.Querier) error {
		var err error
		result, err = markOrderPaid(ctx, q, orderID, s.now())
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if result.Changed {
		s.afterTransition(ctx, result)
	}
	return result.Order, nil
}

func (s *OrderService) afterTransition(ctx context.Context, t *transition) {
	util.OrderStatusTransitionsTotal.WithLabelValues(string(t.From), string(t.Order.Status)).Inc()
	if t.Order.Status == models.OrderStatusPaid {
		util.OrdersPaidTotal.Inc()
	}
	s.logger.Info("Order status changed",
		zap.String("order_id", t.Order.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.Order.Status)))

	event := &models.OrderStatusChangedEvent{
		OrderID:     t.Order.ID,
		OrderNumber: t.Order.OrderNumber,
		From:        t.From,
		To:          t.Order.Status,
	}
	if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}
