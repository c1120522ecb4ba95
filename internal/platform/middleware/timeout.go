package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on each request context. A handler that
// gives up with context.DeadlineExceeded gets a 504 error envelope.
//
// Websocket routes under /ws/ are long-lived and skipped. The query handler
// enforces its own shorter budget, so this only catches runaway handlers.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/ws/")
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if c.Response().Committed {
				return nil
			}
			return c.JSON(http.StatusGatewayTimeout, timeoutBody)
		},
	})
}

var timeoutBody = map[string]any{
	"status": "error",
	"error": map[string]string{
		"code":    "REQUEST_TIMEOUT",
		"message": "request processing exceeded the allowed time limit",
	},
}
