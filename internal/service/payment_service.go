package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/esewa"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Failure reasons carried to the storefront failure page.
const (
	ReasonMissingData       = "missing_data"
	ReasonInvalidCallback   = "invalid_callback"
	ReasonPaymentIncomplete = "payment_incomplete"
	ReasonInvalidSignature  = "invalid_signature"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonProcessingError   = "processing_error"
)

const callbackLockTTL = 30 * time.Second

// errUnreconciled marks a verified callback whose payment or order could not
// be matched to local state.
var errUnreconciled = errors.New("payment could not be reconciled")

// Redirects are the storefront pages the gateway callbacks end on.
type Redirects struct {
	FrontendBaseURL string
}

func (r Redirects) success(orderNumber, orderID string) string {
	q := url.Values{}
	q.Set("orderNumber", orderNumber)
	q.Set("orderId", orderID)
	return r.base() + "/payment/success?" + q.Encode()
}

// fallback is shown when money moved but the order could not be resolved.
func (r Redirects) fallback() string {
	return r.base() + "/payment/success"
}

func (r Redirects) failure(reason string) string {
	return r.base() + "/payment-failed?error=" + url.QueryEscape(reason)
}

// Failed is the page for a cancelled or abandoned gateway session.
func (r Redirects) Failed() string {
	return r.base() + "/payment/failed"
}

func (r Redirects) base() string {
	return strings.TrimRight(r.FrontendBaseURL, "/")
}

// PaymentService drives the eSewa redirect flow
type PaymentService struct {
	repo           store.Repository
	gateway        *esewa.Client
	locker         Locker
	eventPublisher EventPublisher
	redirects      Redirects
	logger         *zap.Logger
	now            func() time.Time
}

// NewPaymentService creates a new payment service. locker may be nil.
func NewPaymentService(
	repo store.Repository,
	gateway *esewa.Client,
	locker Locker,
	eventPublisher EventPublisher,
	redirects Redirects,
) *PaymentService {
	return &PaymentService{
		repo:           repo,
		gateway:        gateway,
		locker:         locker,
		eventPublisher: publisherOrNoop(eventPublisher),
		redirects:      redirects,
		logger:         util.GetLogger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment records a PENDING payment for the user's order and returns
// the signed form the browser posts to the gateway.
func (ps *PaymentService) InitiatePayment(ctx context.Context, userID, orderID string) (*esewa.Form, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiatePayment")
	defer span.End()

	order, err := ps.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("order %s", orderID)
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.Validation("order is %s and cannot be paid", order.Status)
	}
	if order.ShippingAddressID == nil {
		return nil, apperr.Validation("a shipping address is required before payment")
	}

	payment := &models.Payment{
		ID:      uuid.NewString(),
		OrderID: order.ID,
		Method:  models.PaymentMethodEsewa,
		Amount:  order.Total,
		Status:  models.PaymentStatusPending,
	}
	if err := ps.repo.CreatePayment(ctx, payment); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.PaymentAttemptsTotal.Inc()
	ps.logger.Info("Payment initiated",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("amount", payment.Amount.String()))

	form := ps.gateway.BuildForm(esewa.FormRequest{
		TransactionUUID: payment.ID,
		Total:           order.Total.Decimal,
		Tax:             order.Tax.Decimal,
		ShippingCost:    order.ShippingCost.Decimal,
	})
	return &form, nil
}

// HandleCallback verifies the gateway's success redirect and settles the
// payment. It always returns a redirect target; the error explains a
// non-success outcome for logs and is never shown to the browser.
func (ps *PaymentService) HandleCallback(ctx context.Context, data string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(data) == "" {
		return ps.reject(span, ReasonMissingData, apperr.ErrInvalidCallback)
	}

	cb, err := esewa.DecodeCallback(data)
	if err != nil {
		return ps.reject(span, ReasonInvalidCallback, err)
	}
	if cb.Status != esewa.StatusComplete {
		return ps.reject(span, ReasonPaymentIncomplete, apperr.Validation("payment status %s", cb.Status))
	}
	if err := ps.gateway.Verify(cb); err != nil {
		ps.logger.Warn("Rejected gateway callback with bad signature",
			zap.String("transaction_uuid", cb.TransactionUUID))
		return ps.reject(span, ReasonInvalidSignature, err)
	}

	if ps.locker != nil {
		key := "esewa:" + cb.TransactionUUID
		token, err := ps.locker.AcquireLock(ctx, key, callbackLockTTL)
		switch {
		case err != nil:
			ps.logger.Warn("Callback lock unavailable", zap.Error(err))
		case token == "":
			ps.logger.Info("Concurrent callback in progress", zap.String("transaction_uuid", cb.TransactionUUID))
		default:
			defer func() {
				if err := ps.locker.ReleaseLock(context.Background(), key, token); err != nil {
					ps.logger.Warn("Failed to release callback lock", zap.Error(err))
				}
			}()
		}
	}

	outcome, err := ps.settle(ctx, cb)
	switch {
	case errors.Is(err, errUnreconciled):
		ps.alert(ctx, cb, outcome.alertReason)
		if outcome.alertReason == models.AlertAmountMismatch || outcome.alertReason == models.AlertProductMismatch {
			return ps.reject(span, ReasonAmountMismatch, err)
		}
		util.PaymentCallbacksTotal.WithLabelValues("unreconciled").Inc()
		return ps.redirects.fallback(), err
	case err != nil:
		ps.logger.Error("Failed to settle payment",
			zap.String("transaction_uuid", cb.TransactionUUID),
			zap.Error(err))
		return ps.reject(span, ReasonProcessingError, err)
	}

	if outcome.alertReason != "" {
		ps.alert(ctx, cb, outcome.alertReason)
	}
	if outcome.order == nil {
		util.PaymentCallbacksTotal.WithLabelValues("unreconciled").Inc()
		return ps.redirects.fallback(), apperr.NotFound("order %s", outcome.payment.OrderID)
	}
	if outcome.settled {
		util.PaymentCallbacksTotal.WithLabelValues("completed").Inc()
		ps.publishSettled(ctx, outcome)
	} else {
		util.PaymentCallbacksTotal.WithLabelValues("duplicate").Inc()
	}
	return ps.redirects.success(outcome.order.OrderNumber, outcome.order.ID), nil
}

type settlement struct {
	payment     *models.Payment
	order       *models.Order
	transition  *transition
	settled     bool
	alertReason string
}

// settle marks the payment COMPLETED and the order PAID in one transaction.
// A payment that is already COMPLETED is left alone.
func (ps *PaymentService) settle(ctx context.Context, cb *esewa.Callback) (*settlement, error) {
	out := &settlement{}
	err := ps.repo.WithTx(ctx, func(q store.Querier) error {
		payment, err := q.GetPaymentForUpdate(ctx, cb.TransactionUUID)
		if errors.Is(err, apperr.ErrNotFound) {
			out.alertReason = models.AlertPaymentNotFound
			return errUnreconciled
		}
		if err != nil {
			return err
		}
		out.payment = payment

		if payment.Status == models.PaymentStatusCompleted {
			order, err := q.GetOrderByID(ctx, payment.OrderID)
			if errors.Is(err, apperr.ErrNotFound) {
				out.alertReason = models.AlertOrderNotFound
				return errUnreconciled
			}
			out.order = order
			return err
		}

		if cb.ProductCode != "" && cb.ProductCode != ps.gateway.MerchantCode() {
			out.alertReason = models.AlertProductMismatch
			return errUnreconciled
		}
		paid, err := decimal.NewFromString(cb.TotalAmount)
		if err != nil || !paid.Equal(payment.Amount.Decimal) {
			out.alertReason = models.AlertAmountMismatch
			return errUnreconciled
		}

		if err := q.CompletePayment(ctx, payment.ID, cb.TransactionCode, string(cb.Raw)); err != nil {
			return err
		}
		payment.Status = models.PaymentStatusCompleted
		payment.TransactionID = &cb.TransactionCode
		out.settled = true

		t, err := markOrderPaid(ctx, q, payment.OrderID, ps.now())
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			// Keep the completed payment and its payload for the operator.
			out.alertReason = models.AlertOrderNotFound
			return nil
		case errors.Is(err, apperr.ErrValidation):
			// Cancelled before the money arrived. Keep the payment, leave the
			// order for an operator.
			order, gerr := q.GetOrderByID(ctx, payment.OrderID)
			if gerr != nil {
				return gerr
			}
			out.order = order
			out.alertReason = models.AlertOrderNotPayable
			return nil
		case err != nil:
			return err
		}
		out.order = t.Order
		out.transition = t
		return nil
	})
	if err != nil {
		out.settled = false
	}
	return out, err
}

func (ps *PaymentService) publishSettled(ctx context.Context, out *settlement) {
	txCode := ""
	if out.payment.TransactionID != nil {
		txCode = *out.payment.TransactionID
	}
	ps.logger.Info("Payment completed",
		zap.String("payment_id", out.payment.ID),
		zap.String("order_id", out.order.ID))

	event := &models.PaymentCompletedEvent{
		OrderID:       out.order.ID,
		OrderNumber:   out.order.OrderNumber,
		PaymentID:     out.payment.ID,
		TransactionID: txCode,
		Amount:        out.payment.Amount,
	}
	if err := ps.eventPublisher.PublishPaymentCompleted(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}

	if t := out.transition; t != nil && t.Changed {
		util.OrdersPaidTotal.Inc()
		util.OrderStatusTransitionsTotal.WithLabelValues(string(t.From), string(t.Order.Status)).Inc()
		changed := &models.OrderStatusChangedEvent{
			OrderID:     t.Order.ID,
			OrderNumber: t.Order.OrderNumber,
			From:        t.From,
			To:          t.Order.Status,
		}
		if err := ps.eventPublisher.PublishOrderStatusChanged(ctx, changed); err != nil {
			ps.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}
}

// alert reports a verified callback that needs an operator.
func (ps *PaymentService) alert(ctx context.Context, cb *esewa.Callback, reason string) {
	util.PaymentReconciliationAlertsTotal.WithLabelValues(reason).Inc()
	ps.logger.Error("Verified payment callback could not be reconciled",
		zap.String("reason", reason),
		zap.String("transaction_uuid", cb.TransactionUUID),
		zap.String("transaction_code", cb.TransactionCode),
		zap.String("total_amount", cb.TotalAmount))

	event := &models.PaymentAlertEvent{
		TransactionUUID: cb.TransactionUUID,
		TransactionCode: cb.TransactionCode,
		TotalAmount:     cb.TotalAmount,
		Reason:          reason,
	}
	if err := ps.eventPublisher.PublishPaymentAlert(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentAlert event", zap.Error(err))
	}
}

func (ps *PaymentService) reject(span trace.Span, reason string, err error) (string, error) {
	util.RecordError(span, err)
	util.PaymentCallbacksTotal.WithLabelValues(reason).Inc()
	return ps.redirects.failure(reason), err
}

// HandleFailure is the gateway's failure redirect. Nothing is changed.
func (ps *PaymentService) HandleFailure(ctx context.Context) string {
	util.PaymentCallbacksTotal.WithLabelValues("gateway_failure").Inc()
	return ps.redirects.Failed()
}
