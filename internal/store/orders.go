package store

import (
	"context"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/google/uuid"
)

const orderColumns = `id, order_number, user_id, status, subtotal, tax, shipping_cost, discount, total,
	coupon_id, shipping_address_id, notes, created_at, updated_at, paid_at, shipped_at, delivered_at`

const orderItemColumns = "id, order_id, product_id, variant_id, product_name, variant_name, quantity, price, total"

// CreateOrder creates a new order
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	query := `
		INSERT INTO orders (id, order_number, user_id, status, subtotal, tax, shipping_cost,
		                    discount, total, coupon_id, shipping_address_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	row := q.db.QueryRowxContext(ctx, query,
		order.ID, order.OrderNumber, order.UserID, order.Status, order.Subtotal, order.Tax,
		order.ShippingCost, order.Discount, order.Total, order.CouponID, order.ShippingAddressID, order.Notes)
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return apperr.Persistence("create order", err)
	}
	return nil
}

// CreateOrderItem creates a new order item
func (q *Queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, variant_name,
		                         quantity, price, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.OrderID, item.ProductID, item.VariantID, item.ProductName, item.VariantName,
		item.Quantity, item.Price, item.Total)
	if err != nil {
		return apperr.Persistence("create order item", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (q *Queries) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderForUpdate retrieves an order and locks its row until the
// surrounding transaction ends.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

// GetOrderByNumber retrieves an order by its public order number
func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_number = $1", orderNumber)
}

func (q *Queries) getOrder(ctx context.Context, query, key string) (*models.Order, error) {
	var order models.Order
	if err := q.get(ctx, &order, query, key); err != nil {
		return nil, dbErr(err, "get order", "order %s", key)
	}
	return &order, nil
}

// ListOrders returns orders newest first. An empty userID lists every order.
func (q *Queries) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	orders := []models.Order{}
	var err error
	if userID == "" {
		err = q.sel(ctx, &orders, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
	} else {
		err = q.sel(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	}
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return orders, nil
}

// GetOrderItems retrieves all items for an order
func (q *Queries) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := q.sel(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY product_name, id", orderID)
	if err != nil {
		return nil, apperr.Persistence("get order items", err)
	}
	return items, nil
}

// UpdateOrderLifecycle persists status and lifecycle timestamps. Monetary
// fields are never rewritten.
func (q *Queries) UpdateOrderLifecycle(ctx context.Context, order *models.Order) error {
	row := q.db.QueryRowxContext(ctx, `
		UPDATE orders
		SET status = $1, paid_at = $2, shipped_at = $3, delivered_at = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		order.Status, order.PaidAt, order.ShippedAt, order.DeliveredAt, order.ID)
	if err := row.Scan(&order.UpdatedAt); err != nil {
		return dbErr(err, "update order", "order %s", order.ID)
	}
	return nil
}
