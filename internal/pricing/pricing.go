package pricing

import (
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ShippingPolicy decides the shipping charge for an order. The same policy
// is used for the checkout quote and for the amount charged.
type ShippingPolicy interface {
	Cost(subtotal decimal.Decimal) decimal.Decimal
}

// FlatShipping charges the same fee for every order.
type FlatShipping struct {
	Fee decimal.Decimal
}

func (f FlatShipping) Cost(decimal.Decimal) decimal.Decimal {
	return f.Fee
}

// Line is the pricing view of a cart line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
	// TaxRate is a percentage; zero when the product declares none.
	TaxRate decimal.Decimal
}

// LinesFromCart converts joined cart lines, using the captured price.
func LinesFromCart(cartLines []models.CartLine) []Line {
	lines := make([]Line, 0, len(cartLines))
	for _, cl := range cartLines {
		rate := decimal.Zero
		if cl.TaxRate.Valid {
			rate = cl.TaxRate.Decimal
		}
		lines = append(lines, Line{
			UnitPrice: cl.Price.Decimal,
			Quantity:  cl.Quantity,
			TaxRate:   rate,
		})
	}
	return lines
}

// Totals is the computed price breakdown, each component rounded to 2 places.
type Totals struct {
	Subtotal     models.Money `json:"subtotal"`
	Tax          models.Money `json:"tax"`
	ShippingCost models.Money `json:"shipping_cost"`
	Discount     models.Money `json:"discount"`
	Total        models.Money `json:"total"`
}

// Engine computes order totals.
type Engine struct {
	shipping ShippingPolicy
	now      func() time.Time
}

// NewEngine creates a pricing engine with the given shipping policy
func NewEngine(shipping ShippingPolicy) *Engine {
	return &Engine{shipping: shipping, now: time.Now}
}

// WithClock overrides the clock used for coupon expiry checks.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckCoupon returns a validation error when the coupon cannot be applied to subtotal.
func (e *Engine) CheckCoupon(c *models.Coupon, subtotal decimal.Decimal) error {
	if c == nil {
		return apperr.Validation("invalid coupon code")
	}
	if !c.IsActive {
		return apperr.Validation("this coupon is no longer active")
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(e.now()) {
		return apperr.Validation("this coupon has expired")
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return apperr.Validation("this coupon has reached its usage limit")
	}
	if c.MinOrderAmount.Valid && subtotal.LessThan(c.MinOrderAmount.Decimal) {
		return apperr.Validation("minimum order amount is %s", c.MinOrderAmount.Decimal.StringFixed(2))
	}
	return nil
}

// Discount returns the coupon discount for subtotal, clamped to [0, subtotal].
// Eligibility is not checked here.
func (e *Engine) Discount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercentage:
		discount = subtotal.Mul(c.DiscountValue.Decimal).Div(hundred)
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case models.DiscountFixed:
		discount = c.DiscountValue.Decimal
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount
}

// Compute prices lines with an optional coupon. A non-nil coupon must pass
// CheckCoupon, otherwise the validation error is returned.
func (e *Engine) Compute(lines []Line, coupon *models.Coupon) (Totals, error) {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return Totals{}, apperr.Validation("quantity must be at least 1")
		}
		lineTotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		if l.TaxRate.IsPositive() {
			tax = tax.Add(lineTotal.Mul(l.TaxRate).Div(hundred))
		}
	}

	discount := decimal.Zero
	if coupon != nil {
		if err := e.CheckCoupon(coupon, subtotal); err != nil {
			return Totals{}, err
		}
		discount = e.Discount(coupon, subtotal)
	}

	t := Totals{
		Subtotal:     models.NewMoney(subtotal),
		Tax:          models.NewMoney(tax),
		ShippingCost: models.NewMoney(e.shipping.Cost(subtotal)),
		Discount:     models.NewMoney(discount),
	}
	total := t.Subtotal.Add(t.Tax.Decimal).Add(t.ShippingCost.Decimal).Sub(t.Discount.Decimal)
	if total.IsNegative() {
		return Totals{}, apperr.Validation("order total cannot be negative")
	}
	t.Total = models.NewMoney(total)
	return t, nil
}
