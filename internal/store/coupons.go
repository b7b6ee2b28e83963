package store

import (
	"context"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/google/uuid"
)

const couponColumns = `id, code, description, discount_type, discount_value, min_order_amount,
	max_discount, usage_limit, used_count, is_active, expires_at, created_at`

// GetCouponByCode looks a coupon up by its upper-cased code
func (q *Queries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var coupon models.Coupon
	err := q.get(ctx, &coupon, "SELECT "+couponColumns+" FROM coupons WHERE code = $1", code)
	if err != nil {
		return nil, dbErr(err, "get coupon", "coupon %s", code)
	}
	return &coupon, nil
}

// ListCoupons returns all coupons, newest first
func (q *Queries) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	coupons := []models.Coupon{}
	if err := q.sel(ctx, &coupons, "SELECT "+couponColumns+" FROM coupons ORDER BY created_at DESC"); err != nil {
		return nil, apperr.Persistence("list coupons", err)
	}
	return coupons, nil
}

// CreateCoupon inserts a coupon, upper-casing its code
func (q *Queries) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))

	err := q.get(ctx, &c.CreatedAt, `
		INSERT INTO coupons (id, code, description, discount_type, discount_value, min_order_amount,
		                     max_discount, usage_limit, used_count, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinOrderAmount,
		c.MaxDiscount, c.UsageLimit, c.UsedCount, c.IsActive, c.ExpiresAt)
	if err != nil {
		return apperr.Persistence("create coupon", err)
	}
	return nil
}

// IncrementCouponUsage bumps used_count relative to the stored value, only
// while the usage limit allows it. It reports whether a row was updated.
func (q *Queries) IncrementCouponUsage(ctx context.Context, couponID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID)
	if err != nil {
		return false, apperr.Persistence("increment coupon usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("increment coupon usage", err)
	}
	return n == 1, nil
}
