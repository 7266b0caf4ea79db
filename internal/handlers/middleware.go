package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/session"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

const (
	requestIDHeader = "X-Request-Id"

	ctxActorID  = "actor_id"
	ctxUsername = "username"
)

// RequestLogger tags the request context with a request id and logs one
// access line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		ctx := log.AppendCtx(c.Request.Context(), slog.String("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		slog.InfoContext(ctx, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// RequireActor loads the session named by the cookie and puts the actor
// into the gin context. Requests without a live session get 401.
func RequireActor(store session.Store, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(cookieName)
		if err != nil || id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
			return
		}

		sess, err := store.Get(c.Request.Context(), id)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "failed to load session", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
			return
		}

		c.Set(ctxActorID, sess.UserID)
		c.Set(ctxUsername, sess.Username)
		c.Request = c.Request.WithContext(
			log.AppendCtx(c.Request.Context(), slog.String("actor_id", sess.UserID)),
		)
		c.Next()
	}
}
