package pricing

import (
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func intPtr(v int) *int { return &v }

func newTestEngine() *Engine {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return NewEngine(FlatShipping{Fee: d("100")}).WithClock(func() time.Time { return now })
}

func welcome10() *models.Coupon {
	return &models.Coupon{
		ID:             "c1",
		Code:           "WELCOME10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  models.MustMoney("10"),
		MinOrderAmount: nd("200"),
		MaxDiscount:    nd("500"),
		IsActive:       true,
	}
}

func TestCompute_NoCoupon(t *testing.T) {
	e := newTestEngine()
	totals, err := e.Compute([]Line{{UnitPrice: d("250.00"), Quantity: 2, TaxRate: d("13")}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "500.00", totals.Subtotal.String())
	assert.Equal(t, "65.00", totals.Tax.String())
	assert.Equal(t, "100.00", totals.ShippingCost.String())
	assert.Equal(t, "0.00", totals.Discount.String())
	assert.Equal(t, "665.00", totals.Total.String())
}

func TestCompute_PercentageCoupon(t *testing.T) {
	e := newTestEngine()
	totals, err := e.Compute([]Line{{UnitPrice: d("250.00"), Quantity: 2, TaxRate: d("13")}}, welcome10())
	require.NoError(t, err)

	assert.Equal(t, "50.00", totals.Discount.String())
	assert.Equal(t, "615.00", totals.Total.String())
}

func TestCompute_SubtotalIsExactSum(t *testing.T) {
	e := newTestEngine()
	lines := []Line{
		{UnitPrice: d("0.10"), Quantity: 3},
		{UnitPrice: d("19.99"), Quantity: 7},
		{UnitPrice: d("1234.56"), Quantity: 1},
	}
	totals, err := e.Compute(lines, nil)
	require.NoError(t, err)

	// 0.30 + 139.93 + 1234.56
	assert.Equal(t, "1374.79", totals.Subtotal.String())
	assert.Equal(t, "0.00", totals.Tax.String())
}

func TestCompute_TaxIgnoresDiscount(t *testing.T) {
	e := newTestEngine()
	coupon := &models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: models.MustMoney("100"), IsActive: true}
	totals, err := e.Compute([]Line{{UnitPrice: d("200"), Quantity: 1, TaxRate: d("10")}}, coupon)
	require.NoError(t, err)

	assert.Equal(t, "20.00", totals.Tax.String())
	assert.Equal(t, "100.00", totals.Discount.String())
	assert.Equal(t, "220.00", totals.Total.String())
}

func TestCompute_TaxRoundsHalfUp(t *testing.T) {
	e := newTestEngine()
	// 0.15 * 13% = 0.0195 -> 0.02
	totals, err := e.Compute([]Line{{UnitPrice: d("0.15"), Quantity: 1, TaxRate: d("13")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.02", totals.Tax.String())
	assert.Equal(t, "100.17", totals.Total.String())
}

func TestCompute_TotalInvariant(t *testing.T) {
	e := newTestEngine()
	lines := []Line{
		{UnitPrice: d("33.33"), Quantity: 3, TaxRate: d("13")},
		{UnitPrice: d("12.49"), Quantity: 2, TaxRate: d("5.5")},
	}
	coupon := &models.Coupon{DiscountType: models.DiscountPercentage, DiscountValue: models.MustMoney("7.5"), IsActive: true}
	totals, err := e.Compute(lines, coupon)
	require.NoError(t, err)

	want := totals.Subtotal.Add(totals.Tax.Decimal).Add(totals.ShippingCost.Decimal).Sub(totals.Discount.Decimal)
	assert.True(t, want.Equal(totals.Total.Decimal), "total %s != %s", totals.Total, want)
	assert.False(t, totals.Total.IsNegative())
}

func TestCompute_RejectsZeroQuantity(t *testing.T) {
	_, err := newTestEngine().Compute([]Line{{UnitPrice: d("1"), Quantity: 0}}, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompute_NegativeShippingRejected(t *testing.T) {
	e := NewEngine(FlatShipping{Fee: d("-50")})
	_, err := e.Compute([]Line{{UnitPrice: d("10"), Quantity: 1}}, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDiscount(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name     string
		coupon   *models.Coupon
		subtotal string
		want     string
	}{
		{
			name:     "percentage under cap",
			coupon:   &models.Coupon{DiscountType: models.DiscountPercentage, DiscountValue: models.MustMoney("10"), MaxDiscount: nd("500")},
			subtotal: "500",
			want:     "50",
		},
		{
			name:     "percentage capped",
			coupon:   &models.Coupon{DiscountType: models.DiscountPercentage, DiscountValue: models.MustMoney("50"), MaxDiscount: nd("100")},
			subtotal: "1000",
			want:     "100",
		},
		{
			name:     "percentage without cap",
			coupon:   &models.Coupon{DiscountType: models.DiscountPercentage, DiscountValue: models.MustMoney("25")},
			subtotal: "80",
			want:     "20",
		},
		{
			name:     "fixed below subtotal",
			coupon:   &models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: models.MustMoney("75")},
			subtotal: "300",
			want:     "75",
		},
		{
			name:     "fixed clamped to subtotal",
			coupon:   &models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: models.MustMoney("900")},
			subtotal: "300",
			want:     "300",
		},
		{
			name:     "unknown type",
			coupon:   &models.Coupon{DiscountType: "bogus", DiscountValue: models.MustMoney("10")},
			subtotal: "300",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Discount(tt.coupon, d(tt.subtotal))
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestCompute_FixedCouponNeverNegative(t *testing.T) {
	e := newTestEngine()
	coupon := &models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: models.MustMoney("10000"), IsActive: true}
	totals, err := e.Compute([]Line{{UnitPrice: d("40"), Quantity: 1}}, coupon)
	require.NoError(t, err)

	assert.Equal(t, "40.00", totals.Discount.String())
	assert.Equal(t, "100.00", totals.Total.String())
}

func TestCheckCoupon(t *testing.T) {
	e := newTestEngine()
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(c *models.Coupon)
		wantErr bool
	}{
		{name: "eligible", mutate: func(c *models.Coupon) {}},
		{name: "inactive", mutate: func(c *models.Coupon) { c.IsActive = false }, wantErr: true},
		{name: "expired", mutate: func(c *models.Coupon) { c.ExpiresAt = &past }, wantErr: true},
		{name: "not yet expired", mutate: func(c *models.Coupon) { c.ExpiresAt = &future }},
		{name: "usage limit reached", mutate: func(c *models.Coupon) { c.UsageLimit = intPtr(3); c.UsedCount = 3 }, wantErr: true},
		{name: "under usage limit", mutate: func(c *models.Coupon) { c.UsageLimit = intPtr(3); c.UsedCount = 2 }},
		{name: "below minimum", mutate: func(c *models.Coupon) { c.MinOrderAmount = nd("600") }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := welcome10()
			tt.mutate(c)
			err := e.CheckCoupon(c, d("500"))
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "WELCOME10", NormalizeCode("  welcome10 "))
}

func TestLinesFromCart(t *testing.T) {
	lines := LinesFromCart([]models.CartLine{
		{CartItem: models.CartItem{Price: models.MustMoney("12.50"), Quantity: 2}, TaxRate: nd("13")},
		{CartItem: models.CartItem{Price: models.MustMoney("3"), Quantity: 1}},
	})
	require.Len(t, lines, 2)
	assert.True(t, d("12.5").Equal(lines[0].UnitPrice))
	assert.True(t, d("13").Equal(lines[0].TaxRate))
	assert.True(t, lines[1].TaxRate.IsZero())
}
