package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestPublisher() (*EventPublisher, *recordingWriter) {
	w := &recordingWriter{}
	return NewEventPublisher(&Producer{writer: w, logger: util.GetLogger()}), w
}

func TestPublishOrderCreated_StampsAndKeysByOrder(t *testing.T) {
	ep, w := newTestPublisher()

	err := ep.PublishOrderCreated(context.Background(), &models.OrderCreatedEvent{
		OrderID:     "order-1",
		OrderNumber: "ORD-ABC-123456",
		Total:       models.MustMoney("665"),
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "order-order-1", string(msg.Key))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, models.EventTypeOrderCreated, decoded["event_type"])
	assert.NotEmpty(t, decoded["event_id"])
	assert.Equal(t, "665.00", decoded["total"])
}

func TestPublishPaymentAlert_KeyedByTransaction(t *testing.T) {
	ep, w := newTestPublisher()

	err := ep.PublishPaymentAlert(context.Background(), &models.PaymentAlertEvent{
		TransactionUUID: "pay-9",
		Reason:          models.AlertPaymentNotFound,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "payment-pay-9", string(w.messages[0].Key))
}

func TestPublish_WriterError(t *testing.T) {
	ep, w := newTestPublisher()
	w.err = errors.New("broker down")

	err := ep.PublishPaymentCompleted(context.Background(), &models.PaymentCompletedEvent{OrderID: "o"})
	assert.Error(t, err)
}

func TestEventHandler_Routes(t *testing.T) {
	ep, w := newTestPublisher()
	ctx := context.Background()
	require.NoError(t, ep.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		OrderID: "o1", From: models.OrderStatusPaid, To: models.OrderStatusShipped,
	}))
	require.NoError(t, ep.PublishPaymentAlert(ctx, &models.PaymentAlertEvent{
		TransactionUUID: "pay-1", Reason: models.AlertAmountMismatch,
	}))

	var changed *models.OrderStatusChangedEvent
	var alert *models.PaymentAlertEvent
	h := NewEventHandler()
	h.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		changed = e
		return nil
	})
	h.OnPaymentAlert(func(_ context.Context, e *models.PaymentAlertEvent) error {
		alert = e
		return nil
	})

	for _, msg := range w.messages {
		require.NoError(t, h.HandleMessage(ctx, msg))
	}

	require.NotNil(t, changed)
	assert.Equal(t, models.OrderStatusShipped, changed.To)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertAmountMismatch, alert.Reason)
}

func TestEventHandler_BadPayload(t *testing.T) {
	h := NewEventHandler()
	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestEventHandler_UnregisteredTypeIsIgnored(t *testing.T) {
	h := NewEventHandler()
	err := h.HandleMessage(context.Background(), kafka.Message{
		Value: []byte(`{"event_type":"PAYMENT_COMPLETED","order_id":"o"}`),
	})
	assert.NoError(t, err)
}
