package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"storefront/internal/esewa"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const frontendURL = "https://shop.example"

type recordingPublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	changed   []*models.OrderStatusChangedEvent
	completed []*models.PaymentCompletedEvent
	alerts    []*models.PaymentAlertEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentCompleted(_ context.Context, e *models.PaymentCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentAlert(_ context.Context, e *models.PaymentAlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, e)
	return nil
}

type fixture struct {
	repo     *memstore.Store
	pub      *recordingPublisher
	gateway  *esewa.Client
	carts    *CartService
	coupons  *CouponService
	orders   *OrderService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memstore.New()
	repo.AddUser("user-1", "CUSTOMER")
	repo.AddUser("user-2", "CUSTOMER")
	repo.AddProduct(models.Product{
		ID:       "tee",
		Name:     "Logo Tee",
		Price:    models.MustMoney("250"),
		TaxRate:  decimal.NewNullDecimal(decimal.NewFromInt(13)),
		Stock:    1000,
		IsActive: true,
	})
	repo.AddProduct(models.Product{
		ID:       "cap",
		Name:     "Cap",
		Price:    models.MustMoney("100"),
		Stock:    1000,
		IsActive: true,
	})
	repo.AddVariant(models.ProductVariant{
		ID:        "tee-xl",
		ProductID: "tee",
		Name:      "XL",
		Price:     decimal.NewNullDecimal(decimal.RequireFromString("275")),
		Stock:     5,
	})
	repo.AddAddress(models.Address{ID: "addr-1", UserID: "user-1", FullName: "Sita", City: "Kathmandu", Country: "Nepal"})
	repo.AddAddress(models.Address{ID: "addr-2", UserID: "user-2", FullName: "Ram", City: "Pokhara", Country: "Nepal"})

	engine := pricing.NewEngine(pricing.FlatShipping{Fee: decimal.NewFromInt(100)})
	pub := &recordingPublisher{}
	gateway := esewa.NewClient(esewa.Config{
		MerchantCode: "EPAYTEST",
		SecretKey:    "8gBm/:&EnhH.1/q",
		SuccessURL:   "https://api.shop.example/api/v1/payments/esewa/success",
		FailureURL:   "https://api.shop.example/api/v1/payments/esewa/failure",
	})

	return &fixture{
		repo:     repo,
		pub:      pub,
		gateway:  gateway,
		carts:    NewCartService(repo),
		coupons:  NewCouponService(repo, engine),
		orders:   NewOrderService(repo, engine, pub),
		payments: NewPaymentService(repo, gateway, nil, pub, Redirects{FrontendBaseURL: frontendURL}),
	}
}

// fillCart puts two tees in the user's cart and returns the cart id.
func (f *fixture) fillCart(t *testing.T, userID string) string {
	t.Helper()
	view, err := f.carts.AddItem(context.Background(), models.UserOwner(userID), "tee", nil, 2)
	require.NoError(t, err)
	return view.Cart.ID
}

func (f *fixture) addWelcome10(t *testing.T, usageLimit *int) *models.Coupon {
	t.Helper()
	c := &models.Coupon{
		Code:           "welcome10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  models.MustMoney("10"),
		MinOrderAmount: decimal.NewNullDecimal(decimal.NewFromInt(200)),
		MaxDiscount:    decimal.NewNullDecimal(decimal.NewFromInt(500)),
		UsageLimit:     usageLimit,
		IsActive:       true,
	}
	require.NoError(t, f.repo.CreateCoupon(context.Background(), c))
	return c
}

func (f *fixture) placeOrder(t *testing.T, userID, addressID string) *models.Order {
	t.Helper()
	cartID := f.fillCart(t, userID)
	order, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:            userID,
		CartID:            cartID,
		ShippingAddressID: &addressID,
	})
	require.NoError(t, err)
	return order
}

// callbackData builds a signed gateway success payload.
func (f *fixture) callbackData(t *testing.T, paymentID, status, total string) string {
	t.Helper()
	fields := map[string]string{
		"transaction_code":   "000AWEO",
		"status":             status,
		"total_amount":       total,
		"transaction_uuid":   paymentID,
		"product_code":       "EPAYTEST",
		"signed_field_names": "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",
	}
	fields["signature"] = f.gateway.Sign(fields, strings.Split(fields["signed_field_names"], ","))
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func intPtr(n int) *int { return &n }
