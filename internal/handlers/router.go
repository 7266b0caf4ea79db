package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/newsletter"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/ratelimit"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/session"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/users"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/validation"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Coordinator *subscriptions.Coordinator
	Publisher   *newsletter.Publisher
	Users       *users.Service
	Sessions    session.Store

	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration

	// RateLimiter throttles POST /subscriptions when set.
	RateLimiter *ratelimit.Store

	// TrustedProxies may set X-Forwarded-For for the rate limit key. Nil
	// trusts none and keys by the connection's remote address.
	TrustedProxies []string

	Validator *validatorv10.Validate
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg HandlerConfig) (*gin.Engine, error) {
	if cfg.Validator == nil {
		cfg.Validator = validation.Shared()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "newsletter_session"
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), RequestLogger())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterSubscriptionRoutes(r, cfg)
	RegisterAdminRoutes(r, cfg)

	return r, nil
}
