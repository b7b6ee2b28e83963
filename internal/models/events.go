package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentCompleted   = "PAYMENT_COMPLETED"
	EventTypePaymentAlert       = "PAYMENT_ALERT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after the checkout transaction commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Total       Money           `json:"total"`
	CouponID    *string         `json:"coupon_id,omitempty"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published whenever a transition is applied
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
}

// PaymentCompletedEvent published after a verified gateway callback is reconciled
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	Amount        Money  `json:"amount"`
}

// PaymentAlertEvent signals a verified callback that could not be reconciled.
// Money has moved on the gateway side, so these need an operator.
type PaymentAlertEvent struct {
	BaseEvent
	TransactionUUID string `json:"transaction_uuid"`
	TransactionCode string `json:"transaction_code"`
	TotalAmount     string `json:"total_amount"`
	Reason          string `json:"reason"`
}

// Alert reasons
const (
	AlertPaymentNotFound = "payment_not_found"
	AlertOrderNotFound   = "order_not_found"
	AlertAmountMismatch  = "amount_mismatch"
	AlertProductMismatch = "product_code_mismatch"
	AlertOrderNotPayable = "order_not_payable"
)

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}
