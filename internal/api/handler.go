package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

// Dependencies wires the handler. Limiter and Checks are optional.
type Dependencies struct {
	Carts    *service.CartService
	Coupons  *service.CouponService
	Orders   *service.OrderService
	Payments *service.PaymentService

	Limiter             RateLimiter
	TrackLimitPerMinute int
	JWTSecret           string
	Checks              map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	coupons  *service.CouponService
	orders   *service.OrderService
	payments *service.PaymentService

	limiter    RateLimiter
	trackLimit int
	jwtSecret  []byte
	checks     map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		carts:      deps.Carts,
		coupons:    deps.Coupons,
		orders:     deps.Orders,
		payments:   deps.Payments,
		limiter:    deps.Limiter,
		trackLimit: deps.TrackLimitPerMinute,
		jwtSecret:  []byte(deps.JWTSecret),
		checks:     deps.Checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.authenticate(), h.adoptGuestCart())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.POST("/checkout/quote", h.quote)
		v1.POST("/coupons/validate", h.validateCoupon)

		v1.GET("/orders/track/:orderNumber", h.rateLimit("track", h.trackLimit), h.trackOrder)
		v1.GET("/payments/esewa/success", h.esewaSuccess)
		v1.GET("/payments/esewa/failure", h.esewaFailure)

		authed := v1.Group("", requireAuth())
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/payments/esewa/initiate", h.initiatePayment)

		admin := v1.Group("/admin", requireAuth(), requireAdmin())
		admin.GET("/orders", h.adminListOrders)
		admin.PATCH("/orders/:id/status", h.adminSetOrderStatus)
		admin.GET("/coupons", h.adminListCoupons)
		admin.POST("/coupons", h.adminCreateCoupon)
		admin.GET("/dashboard", h.adminDashboard)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not-ready while any backing service is unreachable.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			requestLogger(c).Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			failing[name] = "unavailable"
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": failing,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// cartOwner is the authenticated user, or the guest session from X-Session-ID.
// A signed-in request's guest cart has already been adopted by adoptGuestCart.
func cartOwner(c *gin.Context) models.CartOwner {
	if userID := c.GetString(ctxUserID); userID != "" {
		return models.UserOwner(userID)
	}
	return models.GuestOwner(c.GetHeader(headerSessionID))
}

func viewer(c *gin.Context) service.Viewer {
	return service.Viewer{
		UserID:  c.GetString(ctxUserID),
		IsAdmin: c.GetString(ctxRole) == roleAdmin,
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// respondError maps service errors to HTTP responses. Internal causes are
// logged, never returned.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty", "details": err.Error()})
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": apperr.Detail(err)})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": apperr.Detail(err)})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	default:
		requestLogger(c).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
