package store

import (
	"context"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

const paymentColumns = "id, order_id, method, transaction_id, amount, status, response_data, created_at, updated_at"

// CreatePayment creates a new payment record. The caller assigns the ID since
// it is also sent to the gateway as transaction_uuid.
func (q *Queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	row := q.db.QueryRowxContext(ctx, `
		INSERT INTO payments (id, order_id, method, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		payment.ID, payment.OrderID, payment.Method, payment.Amount, payment.Status)
	if err := row.Scan(&payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return apperr.Persistence("create payment", err)
	}
	return nil
}

// GetPaymentByID retrieves a payment attempt
func (q *Queries) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	return q.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
}

// GetPaymentForUpdate retrieves a payment attempt and locks its row
func (q *Queries) GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return q.getPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
}

// GetLatestPaymentByOrderID retrieves the newest payment attempt for an order
func (q *Queries) GetLatestPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return q.getPayment(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
}

func (q *Queries) getPayment(ctx context.Context, query, key string) (*models.Payment, error) {
	var payment models.Payment
	if err := q.get(ctx, &payment, query, key); err != nil {
		return nil, dbErr(err, "get payment", "payment %s", key)
	}
	return &payment, nil
}

// CompletePayment marks a payment as settled and stores the gateway reference
// and the raw callback document.
func (q *Queries) CompletePayment(ctx context.Context, id, transactionCode, responseData string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, transaction_id = $2, response_data = $3, updated_at = NOW()
		WHERE id = $4`,
		models.PaymentStatusCompleted, transactionCode, responseData, id)
	if err != nil {
		return apperr.Persistence("complete payment", err)
	}
	return requireOneRow(res, "payment %s", id)
}
