package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const hstsMaxAge = 365 * 24 * time.Hour

// SecurityHeaders marks every response as uncacheable and unframeable since
// answers quote patient records. hsts adds Strict-Transport-Security and
// should only be on behind TLS.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
	}
	if hsts {
		headers["Strict-Transport-Security"] = "max-age=" + strconv.Itoa(int(hstsMaxAge.Seconds())) + "; includeSubDomains"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range headers {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
