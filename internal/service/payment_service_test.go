package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquired []string
	released []string
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.held[key] = "token-" + key
	l.acquired = append(l.acquired, key)
	return l.held[key], nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released = append(l.released, key)
	}
	return nil
}

func (f *fixture) initiate(t *testing.T, order *models.Order) string {
	t.Helper()
	form, err := f.payments.InitiatePayment(context.Background(), order.UserID, order.ID)
	require.NoError(t, err)
	return form.FormData["transaction_uuid"]
}

func (f *fixture) order(t *testing.T, id string) models.Order {
	t.Helper()
	for _, o := range f.repo.Orders() {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("order %s not found", id)
	return models.Order{}
}

func (f *fixture) payment(t *testing.T, id string) models.Payment {
	t.Helper()
	for _, p := range f.repo.Payments() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("payment %s not found", id)
	return models.Payment{}
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "user-1", "addr-1")

	form, err := f.payments.InitiatePayment(context.Background(), "user-1", order.ID)
	require.NoError(t, err)

	data := form.FormData
	assert.Equal(t, "665.00", data["total_amount"])
	assert.Equal(t, "500.00", data["amount"])
	assert.Equal(t, "65.00", data["tax_amount"])
	assert.Equal(t, "100.00", data["product_delivery_charge"])
	assert.Equal(t, "EPAYTEST", data["product_code"])
	assert.NotEmpty(t, data["signature"])

	p := f.payment(t, data["transaction_uuid"])
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, order.ID, p.OrderID)
	assert.Equal(t, "665.00", p.Amount.String())
}

func TestInitiatePayment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "user-1", "addr-1")

	_, err := f.payments.InitiatePayment(ctx, "user-2", order.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.payments.InitiatePayment(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	cartID := f.fillCart(t, "user-1")
	noAddress, err := f.orders.CreateOrder(ctx, CreateOrderInput{UserID: "user-1", CartID: cartID})
	require.NoError(t, err)
	_, err = f.payments.InitiatePayment(ctx, "user-1", noAddress.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	_, err = f.payments.InitiatePayment(ctx, "user-1", order.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, f.repo.Payments())
}

func TestHandleCallback_Success(t *testing.T) {
	f := newFixture(t)
	locker := &fakeLocker{}
	f.payments.locker = locker
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)

	redirect, err := f.payments.HandleCallback(context.Background(), f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	require.NoError(t, err)
	assert.Equal(t, frontendURL+"/payment/success?orderId="+order.ID+"&orderNumber="+order.OrderNumber, redirect)

	stored := f.order(t, order.ID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	p := f.payment(t, paymentID)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "000AWEO", *p.TransactionID)
	require.NotNil(t, p.ResponseData)
	assert.Contains(t, *p.ResponseData, paymentID)

	require.Len(t, f.pub.completed, 1)
	assert.Equal(t, "000AWEO", f.pub.completed[0].TransactionID)
	require.Len(t, f.pub.changed, 1)
	assert.Equal(t, models.OrderStatusPaid, f.pub.changed[0].To)

	assert.Equal(t, []string{"esewa:" + paymentID}, locker.acquired)
	assert.Equal(t, locker.acquired, locker.released)
}

func TestHandleCallback_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)
	data := f.callbackData(t, paymentID, "COMPLETE", "665.00")

	first, err := f.payments.HandleCallback(ctx, data)
	require.NoError(t, err)
	paidAt := *f.order(t, order.ID).PaidAt

	second, err := f.payments.HandleCallback(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored := f.order(t, order.ID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.True(t, paidAt.Equal(*stored.PaidAt))
	assert.Len(t, f.pub.completed, 1)
	assert.Len(t, f.pub.changed, 1)
}

func TestHandleCallback_LeavesFulfilledOrderAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)

	_, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	_, err = f.payments.HandleCallback(ctx, f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, f.order(t, order.ID).Status)
	assert.Equal(t, models.PaymentStatusCompleted, f.payment(t, paymentID).Status)
}

func TestHandleCallback_TamperedAmount(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)

	raw, err := base64.StdEncoding.DecodeString(f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["total_amount"] = "1.00"
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)

	redirect, err := f.payments.HandleCallback(context.Background(), base64.StdEncoding.EncodeToString(tampered))
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Equal(t, frontendURL+"/payment-failed?error=invalid_signature", redirect)

	assert.Equal(t, models.OrderStatusPending, f.order(t, order.ID).Status)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, paymentID).Status)
	assert.Empty(t, f.pub.alerts)
}

func TestHandleCallback_SignedAmountMismatch(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)

	redirect, err := f.payments.HandleCallback(context.Background(), f.callbackData(t, paymentID, "COMPLETE", "1.00"))
	assert.Error(t, err)
	assert.Equal(t, frontendURL+"/payment-failed?error=amount_mismatch", redirect)

	assert.Equal(t, models.OrderStatusPending, f.order(t, order.ID).Status)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, paymentID).Status)
	require.Len(t, f.pub.alerts, 1)
	assert.Equal(t, models.AlertAmountMismatch, f.pub.alerts[0].Reason)
}

func TestHandleCallback_IncompleteStatus(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)

	redirect, err := f.payments.HandleCallback(context.Background(), f.callbackData(t, paymentID, "PENDING", "665.00"))
	assert.Error(t, err)
	assert.Equal(t, frontendURL+"/payment-failed?error=payment_incomplete", redirect)
	assert.Equal(t, models.OrderStatusPending, f.order(t, order.ID).Status)
}

func TestHandleCallback_MalformedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redirect, err := f.payments.HandleCallback(ctx, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidCallback)
	assert.Equal(t, frontendURL+"/payment-failed?error=missing_data", redirect)

	redirect, err = f.payments.HandleCallback(ctx, "%%%not-base64")
	assert.ErrorIs(t, err, apperr.ErrInvalidCallback)
	assert.Equal(t, frontendURL+"/payment-failed?error=invalid_callback", redirect)

	redirect, err = f.payments.HandleCallback(ctx, base64.StdEncoding.EncodeToString([]byte("not json")))
	assert.ErrorIs(t, err, apperr.ErrInvalidCallback)
	assert.Equal(t, frontendURL+"/payment-failed?error=invalid_callback", redirect)
}

func TestHandleCallback_UnknownPayment(t *testing.T) {
	f := newFixture(t)

	redirect, err := f.payments.HandleCallback(context.Background(), f.callbackData(t, "no-such-payment", "COMPLETE", "665.00"))
	assert.Error(t, err)
	assert.Equal(t, frontendURL+"/payment/success", redirect)
	require.Len(t, f.pub.alerts, 1)
	assert.Equal(t, models.AlertPaymentNotFound, f.pub.alerts[0].Reason)
	assert.Equal(t, "no-such-payment", f.pub.alerts[0].TransactionUUID)
}

func TestHandleCallback_CancelledOrderKeepsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)
	_, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	redirect, err := f.payments.HandleCallback(ctx, f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	require.NoError(t, err)
	assert.Contains(t, redirect, "/payment/success?")

	assert.Equal(t, models.OrderStatusCancelled, f.order(t, order.ID).Status)
	assert.Equal(t, models.PaymentStatusCompleted, f.payment(t, paymentID).Status)
	require.Len(t, f.pub.alerts, 1)
	assert.Equal(t, models.AlertOrderNotPayable, f.pub.alerts[0].Reason)
}

func TestHandleCallback_MissingOrderKeepsPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)
	f.repo.RemoveOrder(order.ID)

	redirect, err := f.payments.HandleCallback(ctx, f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, frontendURL+"/payment/success", redirect)

	stored := f.payment(t, paymentID)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	require.NotNil(t, stored.ResponseData)
	assert.Contains(t, *stored.ResponseData, paymentID)
	require.Len(t, f.pub.alerts, 1)
	assert.Equal(t, models.AlertOrderNotFound, f.pub.alerts[0].Reason)
	assert.Empty(t, f.pub.completed)
}

func TestHandleCallback_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "user-1", "addr-1")
	paymentID := f.initiate(t, order)
	f.repo.FailOn("UpdateOrderLifecycle", assert.AnError)

	redirect, err := f.payments.HandleCallback(context.Background(), f.callbackData(t, paymentID, "COMPLETE", "665.00"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, frontendURL+"/payment-failed?error=processing_error", redirect)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, paymentID).Status)
	assert.Equal(t, models.OrderStatusPending, f.order(t, order.ID).Status)
}

func TestHandleFailure(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, frontendURL+"/payment/failed", f.payments.HandleFailure(context.Background()))
}
