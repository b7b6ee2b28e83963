package api

import (
	"net/http"

	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createOrderRequest struct {
	CartID            string  `json:"cart_id" binding:"required"`
	ShippingAddressID *string `json:"shipping_address_id"`
	CouponCode        string  `json:"coupon_code"`
	Notes             *string `json:"notes"`
}

type initiatePaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:            c.GetString(ctxUserID),
		CartID:            req.CartID,
		ShippingAddressID: req.ShippingAddressID,
		CouponCode:        req.CouponCode,
		Notes:             req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	detail, err := h.orders.GetOrder(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// trackOrder is public and keyed by order number.
func (h *Handler) trackOrder(c *gin.Context) {
	detail, err := h.orders.TrackOrder(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) initiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	form, err := h.payments.InitiatePayment(c.Request.Context(), c.GetString(ctxUserID), req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

// esewaSuccess is where the gateway sends the browser after payment. The
// response is always a redirect to the storefront.
func (h *Handler) esewaSuccess(c *gin.Context) {
	redirect, err := h.payments.HandleCallback(c.Request.Context(), c.Query("data"))
	if err != nil {
		requestLogger(c).Warn("Payment callback not settled", zap.Error(err))
	}
	c.Redirect(http.StatusFound, redirect)
}

func (h *Handler) esewaFailure(c *gin.Context) {
	c.Redirect(http.StatusFound, h.payments.HandleFailure(c.Request.Context()))
}
