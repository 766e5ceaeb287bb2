package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "festtix/internal/errors"
	"festtix/internal/logger"
	"festtix/internal/metrics"
	"festtix/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	HeaderRequestID = "X-Request-ID"
	// HeaderUserID is set by the upstream auth proxy once the session is verified
	HeaderUserID = "X-User-ID"

	profileKey = "profile"
)

// ProfileSource resolves the caller's profile, creating it on first sight
type ProfileSource interface {
	Ensure(ctx context.Context, id string) (*models.Profile, error)
}

// ProfileFromContext returns the profile Identity stored, or nil
func ProfileFromContext(c *gin.Context) *models.Profile {
	if v, ok := c.Get(profileKey); ok {
		if p, ok := v.(*models.Profile); ok {
			return p
		}
	}
	return nil
}

// CORS allows the browser front-end on another origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderUserID+", "+HeaderRequestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// RequestID tags the request with an id and a request-scoped logger
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = logger.NewRequestID()
		}
		c.Header(HeaderRequestID, id)
		c.Set("request_id", id)

		ctx := logger.ContextWithLogger(c.Request.Context(), logger.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger records latency per route and logs failed requests
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(latency.Seconds())

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			logFields = append(logFields, "error", c.Errors.String())
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("Request completed with error", logFields...)
		case status >= 400:
			log.Warn("Request rejected", logFields...)
		default:
			log.Debug("Request completed", logFields...)
		}
	}
}

// Recovery turns panics into a logged 500
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.Error("PANIC recovered",
			"panic", recovered,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)

		if !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
		}
	})
}

// Timeout bounds the request context. Backend calls started by the handler
// give up when it expires; the client gets 504 from the handler.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Identity resolves X-User-ID into a profile. Requests without the header are
// rejected with 401.
func Identity(profiles ProfileSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "Unauthorized",
				Code:  apperrors.Code(apperrors.ErrUnauthorized),
			})
			return
		}

		ctx := c.Request.Context()
		profile, err := profiles.Ensure(ctx, userID)
		if err != nil {
			logger.WithContext(ctx).Error("Failed to load profile", "user_id", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, models.ErrorResponse{
				Error: "Failed to load profile",
				Code:  apperrors.Code(apperrors.ErrNetwork),
			})
			return
		}

		c.Set(profileKey, profile)
		c.Set("user_id", profile.ID)
		log := logger.WithContext(ctx).With("user_id", profile.ID)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(ctx, log))

		c.Next()
	}
}

// RequireAdmin must run after Identity
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ProfileFromContext(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
				Error: "Admin role required",
				Code:  apperrors.Code(apperrors.ErrForbidden),
			})
			return
		}
		c.Next()
	}
}
