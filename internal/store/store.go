package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Querier lists every statement the checkout core runs. It is satisfied by
// Queries bound to the pool or to a transaction.
type Querier interface {
	GetCartByOwner(ctx context.Context, owner models.CartOwner) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	ReassignCart(ctx context.Context, cartID, userID string) error
	DeleteCart(ctx context.Context, cartID string) error
	LockCart(ctx context.Context, cartID string) error
	GetCartLines(ctx context.Context, cartID string) ([]models.CartLine, error)
	GetCartItem(ctx context.Context, itemID string) (*models.CartItem, error)
	FindCartItem(ctx context.Context, cartID, productID string, variantID *string) (*models.CartItem, error)
	CreateCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) error
	DeleteCartItem(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context, cartID string) error

	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetVariantByID(ctx context.Context, id string) (*models.ProductVariant, error)
	GetAddress(ctx context.Context, id string) (*models.Address, error)

	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	IncrementCouponUsage(ctx context.Context, couponID string) (bool, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context, userID string) ([]models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderLifecycle(ctx context.Context, order *models.Order) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error)
	GetLatestPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	CompletePayment(ctx context.Context, id, transactionCode, responseData string) error

	GetDashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// Repository is a Querier that can also run a function inside a transaction.
type Repository interface {
	Querier
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

// Queries executes statements on either a pool or a transaction.
type Queries struct {
	db sqlx.ExtContext
}

var _ Querier = (*Queries)(nil)

type Store struct {
	*Queries
	conn *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an existing connection pool.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{Queries: &Queries{db: db}, conn: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// WithTx runs fn inside a read-committed transaction. Any error returned by
// fn, or a panic, rolls the whole transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return apperr.Persistence("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Persistence("commit transaction", err)
	}
	return nil
}

// dbErr maps sql.ErrNoRows to a not-found error and everything else to a
// persistence error.
func dbErr(err error, op, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Persistence(op, err)
}

func (q *Queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q.db, dest, query, args...)
}

func (q *Queries) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.db, dest, query, args...)
}

// GetProductByID retrieves a product by ID
func (q *Queries) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := q.get(ctx, &product,
		"SELECT id, name, price, tax_rate, stock, is_active, created_at FROM products WHERE id = $1", id)
	if err != nil {
		return nil, dbErr(err, "get product", "product %s", id)
	}
	return &product, nil
}

// GetVariantByID retrieves a product variant by ID
func (q *Queries) GetVariantByID(ctx context.Context, id string) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := q.get(ctx, &variant,
		"SELECT id, product_id, name, price, stock FROM product_variants WHERE id = $1", id)
	if err != nil {
		return nil, dbErr(err, "get variant", "variant %s", id)
	}
	return &variant, nil
}

// GetAddress retrieves a shipping address
func (q *Queries) GetAddress(ctx context.Context, id string) (*models.Address, error) {
	var addr models.Address
	err := q.get(ctx, &addr, `
		SELECT id, user_id, full_name, phone, address_line_1, address_line_2,
		       city, state, postal_code, country, is_default
		FROM addresses WHERE id = $1`, id)
	if err != nil {
		return nil, dbErr(err, "get address", "address %s", id)
	}
	return &addr, nil
}

// GetDashboardStats aggregates counts for the admin dashboard
func (q *Queries) GetDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	err := q.get(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM orders) AS total_orders,
			(SELECT COALESCE(SUM(total), 0) FROM orders
			  WHERE status IN ('PAID', 'PROCESSING', 'SHIPPED', 'DELIVERED')) AS total_revenue,
			(SELECT COUNT(*) FROM products) AS total_products,
			(SELECT COUNT(*) FROM users WHERE role = 'CUSTOMER') AS total_customers`)
	if err != nil {
		return nil, apperr.Persistence("dashboard stats", err)
	}

	err = q.sel(ctx, &stats.RecentOrders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC LIMIT 5")
	if err != nil {
		return nil, apperr.Persistence("recent orders", err)
	}
	return &stats, nil
}
