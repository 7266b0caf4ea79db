package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/newsletter"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/session"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/validation"
)

// RegisterAdminRoutes registers login and the session-protected /admin routes.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/login", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.LoginRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		user, err := cfg.Users.Authenticate(ctx, req.Username, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}

		id, err := cfg.Sessions.Create(ctx, session.Session{
			UserID:    user.ID,
			Username:  user.Username,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(cfg.CookieName, id, int(cfg.SessionTTL.Seconds()), "/", "", cfg.CookieSecure, true)
		slog.InfoContext(ctx, "admin logged in", "username", user.Username)
		c.JSON(http.StatusOK, gin.H{"username": user.Username})
	})

	admin := r.Group("/admin", RequireActor(cfg.Sessions, cfg.CookieName))

	admin.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString(ctxUsername)})
	})

	admin.POST("/logout", func(c *gin.Context) {
		id, _ := c.Cookie(cfg.CookieName)
		if err := cfg.Sessions.Delete(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.SetCookie(cfg.CookieName, "", -1, "/", "", cfg.CookieSecure, true)
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	})

	admin.POST("/password", func(c *gin.Context) {
		var req validation.ChangePasswordRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		err := cfg.Users.ChangePassword(c.Request.Context(), c.GetString(ctxUsername), req.CurrentPassword, req.NewPassword)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "password_changed"})
	})

	admin.POST("/newsletters", func(c *gin.Context) {
		// the key is checked before the body so a bad key never reaches storage
		key, err := idempotency.ParseKey(c.GetHeader("Idempotency-Key"))
		if err != nil {
			writeError(c, err)
			return
		}

		var req validation.PublishNewsletterRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		resp, replayed, err := cfg.Publisher.Publish(c.Request.Context(), c.GetString(ctxActorID), key, newsletter.Issue{
			Title: req.Title,
			HTML:  req.HTMLContent,
			Text:  req.TextContent,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if replayed {
			slog.InfoContext(c.Request.Context(), "replayed saved publish response")
		}
		writeSavedResponse(c, resp)
	})
}

// writeSavedResponse writes resp exactly as saved, so fresh and replayed
// responses are byte-identical.
func writeSavedResponse(c *gin.Context, resp idempotency.Response) {
	h := c.Writer.Header()
	for _, header := range resp.Headers {
		h.Add(header.Name, header.Value)
	}
	c.Status(resp.StatusCode)
	if _, err := c.Writer.Write(resp.Body); err != nil {
		slog.WarnContext(c.Request.Context(), "failed to write response body", "error", err)
	}
}
