package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CouponService struct {
	repo    store.Repository
	pricing *pricing.Engine
	logger  *zap.Logger
}

func NewCouponService(repo store.Repository, engine *pricing.Engine) *CouponService {
	return &CouponService{repo: repo, pricing: engine, logger: util.GetLogger()}
}

// CouponPreview is the result of validating a code against a subtotal.
type CouponPreview struct {
	Coupon   *models.Coupon `json:"coupon"`
	Discount models.Money   `json:"discount"`
}

// lookupCoupon maps an unknown code to a validation error.
func lookupCoupon(ctx context.Context, q store.Querier, code string) (*models.Coupon, error) {
	coupon, err := q.GetCouponByCode(ctx, pricing.NormalizeCode(code))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("invalid coupon code")
	}
	return coupon, err
}

// Validate checks whether code applies to subtotal and returns the discount.
func (s *CouponService) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*CouponPreview, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Validate")
	defer span.End()

	if pricing.NormalizeCode(code) == "" {
		return nil, apperr.Validation("coupon code is required")
	}
	coupon, err := lookupCoupon(ctx, s.repo, code)
	if err != nil {
		return nil, err
	}
	if err := s.pricing.CheckCoupon(coupon, subtotal); err != nil {
		return nil, err
	}
	return &CouponPreview{
		Coupon:   coupon,
		Discount: models.NewMoney(s.pricing.Discount(coupon, subtotal)),
	}, nil
}

func (s *CouponService) List(ctx context.Context) ([]models.Coupon, error) {
	return s.repo.ListCoupons(ctx)
}

// CreateCouponInput is the admin payload for a new coupon.
type CreateCouponInput struct {
	Code           string              `json:"code" binding:"required"`
	Description    *string             `json:"description"`
	DiscountType   models.DiscountType `json:"discount_type" binding:"required"`
	DiscountValue  decimal.Decimal     `json:"discount_value"`
	MinOrderAmount decimal.NullDecimal `json:"min_order_amount"`
	MaxDiscount    decimal.NullDecimal `json:"max_discount"`
	UsageLimit     *int                `json:"usage_limit"`
	IsActive       *bool               `json:"is_active"`
	ExpiresAt      *time.Time          `json:"expires_at"`
}

// Create validates and stores a coupon. Codes are upper-cased.
func (s *CouponService) Create(ctx context.Context, in CreateCouponInput) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Create")
	defer span.End()

	code := pricing.NormalizeCode(in.Code)
	if code == "" {
		return nil, apperr.Validation("coupon code is required")
	}
	switch in.DiscountType {
	case models.DiscountPercentage:
		if in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return nil, apperr.Validation("percentage discount cannot exceed 100")
		}
	case models.DiscountFixed:
	default:
		return nil, apperr.Validation("discount_type must be percentage or fixed")
	}
	if !in.DiscountValue.IsPositive() {
		return nil, apperr.Validation("discount_value must be positive")
	}
	if in.MinOrderAmount.Valid && in.MinOrderAmount.Decimal.IsNegative() {
		return nil, apperr.Validation("min_order_amount cannot be negative")
	}
	if in.MaxDiscount.Valid && !in.MaxDiscount.Decimal.IsPositive() {
		return nil, apperr.Validation("max_discount must be positive")
	}
	if in.UsageLimit != nil && *in.UsageLimit < 1 {
		return nil, apperr.Validation("usage_limit must be at least 1")
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	coupon := &models.Coupon{
		Code:           code,
		Description:    in.Description,
		DiscountType:   in.DiscountType,
		DiscountValue:  models.NewMoney(in.DiscountValue),
		MinOrderAmount: in.MinOrderAmount,
		MaxDiscount:    in.MaxDiscount,
		UsageLimit:     in.UsageLimit,
		IsActive:       active,
		ExpiresAt:      in.ExpiresAt,
	}
	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Coupon created", zap.String("code", coupon.Code), zap.String("coupon_id", coupon.ID))
	return coupon, nil
}
