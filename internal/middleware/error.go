package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/range-cupp/rangemedical-system-2-sub009/pkg/errors"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/httputil"
)

// abort ends the request with the same envelope the handlers use.
func abort(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, httputil.Response{
		Success: false,
		Error: &httputil.Error{
			Code:    status,
			Kind:    kind,
			Message: message,
		},
	})
}

// ErrorHandler logs errors attached to the context. Handlers normally write
// their own error response; if none was written the last error is rendered.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := RequestIDFrom(c)
		for _, e := range c.Errors {
			event := log.Warn()
			if apperrors.CodeOf(e.Err) == 0 || apperrors.IsUpstream(e.Err) {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.FullPath()).
				Str("method", c.Request.Method).
				Str("error_kind", apperrors.CodeOf(e.Err).String()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}

		var appErr *apperrors.AppError
		if errors.As(c.Errors.Last().Err, &appErr) {
			abort(c, appErr.StatusCode(), appErr.Code.String(), appErr.Message)
			return
		}
		abort(c, http.StatusInternalServerError, "internal", "Internal server error")
	}
}
