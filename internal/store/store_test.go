package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "postgres")), mock
}

func TestWithTx_RollsBackWhenCartClearFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE cart_id = $1")).
		WithArgs("cart-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(q Querier) error {
		if err := q.CreateOrderItem(context.Background(), &models.OrderItem{
			OrderID:     "order-1",
			ProductID:   "p1",
			ProductName: "Tee",
			Quantity:    2,
			Price:       models.MustMoney("250"),
			Total:       models.MustMoney("500"),
		}); err != nil {
			return err
		}
		return q.ClearCart(context.Background(), "cart-1")
	})

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailureIsPersistenceError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := s.WithTx(context.Background(), func(q Querier) error { return nil })

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_PanicRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = s.WithTx(context.Background(), func(q Querier) error { panic("boom") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCouponUsage_IsRelativeAndGuarded(t *testing.T) {
	s, mock := newMockStore(t)
	query := regexp.QuoteMeta("UPDATE coupons SET used_count = used_count + 1") +
		".*" + regexp.QuoteMeta("(usage_limit IS NULL OR used_count < usage_limit)")

	mock.ExpectExec(query).WithArgs("coupon-1").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.IncrementCouponUsage(context.Background(), "coupon-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(query).WithArgs("coupon-1").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.IncrementCouponUsage(context.Background(), "coupon-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCouponByCode_UpperCases(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "code", "description", "discount_type", "discount_value", "min_order_amount",
		"max_discount", "usage_limit", "used_count", "is_active", "expires_at", "created_at",
	}).AddRow("c1", "SAVE10", nil, "percentage", "10.00", nil, nil, nil, 0, true, nil, fixedTime)

	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = $1")).
		WithArgs("SAVE10").
		WillReturnRows(rows)

	coupon, err := s.GetCouponByCode(context.Background(), "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, models.DiscountPercentage, coupon.DiscountType)
	assert.Equal(t, "10.00", coupon.DiscountValue.String())
	assert.False(t, coupon.MinOrderAmount.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCartLines(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "cart_id", "product_id", "variant_id", "quantity", "price",
		"product_name", "tax_rate", "variant_name",
	}).
		AddRow("i1", "cart-1", "p1", nil, 2, "250.00", "Tee", "13.00", nil).
		AddRow("i2", "cart-1", "p2", "v1", 1, "100.00", "Cap", nil, "Red")

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items ci")).
		WithArgs("cart-1").
		WillReturnRows(rows)

	lines, err := s.GetCartLines(context.Background(), "cart-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "500.00", models.NewMoney(lines[0].LineTotal()).String())
	assert.True(t, lines[0].TaxRate.Valid)
	assert.Nil(t, lines[0].VariantID)
	require.NotNil(t, lines[1].VariantName)
	assert.Equal(t, "Red", *lines[1].VariantName)
	assert.False(t, lines[1].TaxRate.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCartItem_MissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE id = $1")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteCartItem(context.Background(), "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompletePayment(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("COMPLETED", "000AWEO", `{"status":"COMPLETE"}`, "pay-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompletePayment(context.Background(), "pay-1", "000AWEO", `{"status":"COMPLETE"}`)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignCart(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE carts SET user_id = $1, session_id = NULL")).
		WithArgs("user-1", "cart-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReassignCart(context.Background(), "cart-1", "user-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCart_MissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM carts WHERE id = $1")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteCart(context.Background(), "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
