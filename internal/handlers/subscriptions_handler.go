package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/ratelimit"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/validation"
)

// RegisterSubscriptionRoutes registers the public subscribe and confirm routes.
func RegisterSubscriptionRoutes(r *gin.Engine, cfg HandlerConfig) {
	subscribe := []gin.HandlerFunc{}
	if cfg.RateLimiter != nil {
		subscribe = append(subscribe, ratelimit.Middleware(cfg.RateLimiter, nil))
	}

	subscribe = append(subscribe, func(c *gin.Context) {
		var req validation.SubscribeRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		if err := cfg.Coordinator.Subscribe(c.Request.Context(), req.Email, req.Name); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": subscriptions.StatusPendingConfirmation})
	})
	r.POST("/subscriptions", subscribe...)

	r.GET("/subscriptions/confirm", func(c *gin.Context) {
		if err := cfg.Coordinator.Confirm(c.Request.Context(), c.Query("subscription_token")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": subscriptions.StatusConfirmed})
	})
}
