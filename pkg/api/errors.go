package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"library_service/pkg/apperrors"
)

// ErrorHandler renders the last error attached with c.Error as the uniform
// error body. It must run before any middleware that can fail a request.
func ErrorHandler(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := statusFor(err)

		body := gin.H{
			"status":    status,
			"path":      c.Request.URL.Path,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			body["error"] = appErr.Kind
			body["message"] = appErr.Message
			if len(appErr.Fields) > 0 {
				body["fields"] = appErr.Fields
			}
		} else {
			log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
			body["error"] = "INTERNAL_ERROR"
			body["message"] = "internal server error"
		}
		c.JSON(status, body)
	}
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidState, apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindInvalidArgument, apperrors.KindValidationFailed:
		return http.StatusBadRequest
	case apperrors.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case apperrors.KindAuthorizationDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
