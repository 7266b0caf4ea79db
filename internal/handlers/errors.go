package handlers

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

// writeError maps the error taxonomy to a status and a stable error code.
// Only client errors echo their message.
func writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var (
		validationErr errors.Validation
		unauthorized  errors.Unauthorized
		conflict      errors.Conflict
		unavailable   errors.ServiceUnavailable
	)
	switch {
	case stderrors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "msg": validationErr.Error()})
	case stderrors.As(err, &unauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "msg": unauthorized.Error()})
	case stderrors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request_in_progress", "msg": conflict.Error()})
	case stderrors.As(err, &unavailable):
		slog.ErrorContext(ctx, "email transport failure", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "email_dispatch_failed"})
	default:
		slog.ErrorContext(ctx, "request failed", "error", err, log.PriorityCritical())
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
