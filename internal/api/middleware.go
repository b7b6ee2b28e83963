package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxRequestID = "request_id"

	roleAdmin = "ADMIN"

	headerRequestID = "X-Request-ID"
	headerSessionID = "X-Session-ID"
)

// RateLimiter is implemented by redisclient.Client.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestID propagates X-Request-ID, generating one when absent.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func requestLogger(c *gin.Context) *zap.Logger {
	return util.WithRequestID(c.GetString(ctxRequestID))
}

// authenticate reads an optional bearer token. Anonymous requests pass
// through; a present but invalid token is rejected.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		userID, role, err := parseToken(raw, h.jwtSecret)
		if err != nil {
			requestLogger(c).Debug("Rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func parseToken(raw string, secret []byte) (userID, role string, err error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid claims")
	}

	switch v := claims["user_id"].(type) {
	case string:
		userID = v
	case float64:
		userID = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if userID == "" {
		return "", "", fmt.Errorf("token has no user_id")
	}
	role, _ = claims["role"].(string)
	return userID, strings.ToUpper(role), nil
}

// adoptGuestCart merges the X-Session-ID guest cart into the signed-in user's
// cart, so items added before login survive it.
func (h *Handler) adoptGuestCart() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		sessionID := c.GetHeader(headerSessionID)
		if userID == "" || sessionID == "" {
			c.Next()
			return
		}
		if err := h.carts.MergeGuestCart(c.Request.Context(), sessionID, userID); err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != roleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// rateLimit allows limit requests per client IP per minute on route. It fails
// open when the limiter is unavailable.
func (h *Handler) rateLimit(route string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		ok, err := h.limiter.Allow(c.Request.Context(), route+":"+c.ClientIP(), limit, time.Minute)
		if err != nil {
			requestLogger(c).Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			util.RateLimitedRequestsTotal.WithLabelValues(route).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
