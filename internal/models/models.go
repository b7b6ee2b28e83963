package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product. Only the fields checkout needs are mapped.
type Product struct {
	ID        string              `db:"id" json:"id"`
	Name      string              `db:"name" json:"name"`
	Price     Money               `db:"price" json:"price"`
	TaxRate   decimal.NullDecimal `db:"tax_rate" json:"tax_rate"`
	Stock     int                 `db:"stock" json:"stock"`
	IsActive  bool                `db:"is_active" json:"is_active"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
}

// ProductVariant is a size/colour variation of a product with an optional price override.
type ProductVariant struct {
	ID        string              `db:"id" json:"id"`
	ProductID string              `db:"product_id" json:"product_id"`
	Name      string              `db:"name" json:"name"`
	Price     decimal.NullDecimal `db:"price" json:"price"`
	Stock     int                 `db:"stock" json:"stock"`
}

// Address is a shipping address owned by a user
type Address struct {
	ID           string  `db:"id" json:"id"`
	UserID       string  `db:"user_id" json:"user_id"`
	FullName     string  `db:"full_name" json:"full_name"`
	Phone        string  `db:"phone" json:"phone"`
	AddressLine1 string  `db:"address_line_1" json:"address_line_1"`
	AddressLine2 *string `db:"address_line_2" json:"address_line_2,omitempty"`
	City         string  `db:"city" json:"city"`
	State        string  `db:"state" json:"state"`
	PostalCode   *string `db:"postal_code" json:"postal_code,omitempty"`
	Country      string  `db:"country" json:"country"`
	IsDefault    bool    `db:"is_default" json:"is_default"`
}

// Cart belongs either to a guest session or to a user.
type Cart struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID *string   `db:"session_id" json:"session_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one product(+variant) entry in a cart. Price is captured when the
// item is added and is not refreshed from the product afterwards.
type CartItem struct {
	ID        string  `db:"id" json:"id"`
	CartID    string  `db:"cart_id" json:"cart_id"`
	ProductID string  `db:"product_id" json:"product_id"`
	VariantID *string `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int     `db:"quantity" json:"quantity"`
	Price     Money   `db:"price" json:"price"`
}

// CartLine is a cart item joined with live product and variant data.
type CartLine struct {
	CartItem
	ProductName string              `db:"product_name" json:"product_name"`
	TaxRate     decimal.NullDecimal `db:"tax_rate" json:"tax_rate"`
	VariantName *string             `db:"variant_name" json:"variant_name,omitempty"`
}

// LineTotal returns captured price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// DiscountType of a coupon
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a discount code. Codes are stored upper-cased.
type Coupon struct {
	ID             string              `db:"id" json:"id"`
	Code           string              `db:"code" json:"code"`
	Description    *string             `db:"description" json:"description,omitempty"`
	DiscountType   DiscountType        `db:"discount_type" json:"discount_type"`
	DiscountValue  Money               `db:"discount_value" json:"discount_value"`
	MinOrderAmount decimal.NullDecimal `db:"min_order_amount" json:"min_order_amount"`
	MaxDiscount    decimal.NullDecimal `db:"max_discount" json:"max_discount"`
	UsageLimit     *int                `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount      int                 `db:"used_count" json:"used_count"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	ExpiresAt      *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order is the immutable snapshot created at checkout. Only status and
// lifecycle timestamps change after creation.
type Order struct {
	ID                string      `db:"id" json:"id"`
	OrderNumber       string      `db:"order_number" json:"order_number"`
	UserID            string      `db:"user_id" json:"user_id"`
	Status            OrderStatus `db:"status" json:"status"`
	Subtotal          Money       `db:"subtotal" json:"subtotal"`
	Tax               Money       `db:"tax" json:"tax"`
	ShippingCost      Money       `db:"shipping_cost" json:"shipping_cost"`
	Discount          Money       `db:"discount" json:"discount"`
	Total             Money       `db:"total" json:"total"`
	CouponID          *string     `db:"coupon_id" json:"coupon_id,omitempty"`
	ShippingAddressID *string     `db:"shipping_address_id" json:"shipping_address_id,omitempty"`
	Notes             *string     `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
	PaidAt            *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	ShippedAt         *time.Time  `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time  `db:"delivered_at" json:"delivered_at,omitempty"`
}

// OrderItem is a denormalized copy of a cart line at order time
type OrderItem struct {
	ID          string  `db:"id" json:"id"`
	OrderID     string  `db:"order_id" json:"order_id"`
	ProductID   string  `db:"product_id" json:"product_id"`
	VariantID   *string `db:"variant_id" json:"variant_id,omitempty"`
	ProductName string  `db:"product_name" json:"product_name"`
	VariantName *string `db:"variant_name" json:"variant_name,omitempty"`
	Quantity    int     `db:"quantity" json:"quantity"`
	Price       Money   `db:"price" json:"price"`
	Total       Money   `db:"total" json:"total"`
}

// PaymentStatus of a single payment attempt
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// PaymentMethodEsewa is the only supported gateway.
const PaymentMethodEsewa = "esewa"

// Payment is one payment attempt against an order. Its ID doubles as the
// gateway transaction_uuid.
type Payment struct {
	ID            string        `db:"id" json:"id"`
	OrderID       string        `db:"order_id" json:"order_id"`
	Method        string        `db:"method" json:"method"`
	TransactionID *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	Amount        Money         `db:"amount" json:"amount"`
	Status        PaymentStatus `db:"status" json:"status"`
	ResponseData  *string       `db:"response_data" json:"-"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// DashboardStats summarises the shop for the admin panel.
type DashboardStats struct {
	TotalOrders    int     `db:"total_orders" json:"total_orders"`
	TotalRevenue   Money   `db:"total_revenue" json:"total_revenue"`
	TotalProducts  int     `db:"total_products" json:"total_products"`
	TotalCustomers int     `db:"total_customers" json:"total_customers"`
	RecentOrders   []Order `db:"-" json:"recent_orders"`
}
