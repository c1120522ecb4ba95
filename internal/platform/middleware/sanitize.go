package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
)

const maxHeaderValueSize = 8192

// Sanitize refuses requests whose path, query string or headers carry
// traversal sequences, null bytes, line breaks or oversized values. Field
// checks on the question payload belong to the query validator.
func Sanitize() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := rejectReason(c.Request()); reason != "" {
				return c.JSON(http.StatusBadRequest, map[string]any{
					"status": "error",
					"error":  map[string]string{"code": "INVALID_REQUEST", "message": reason},
				})
			}
			return next(c)
		}
	}
}

func rejectReason(req *http.Request) string {
	for _, p := range []string{req.URL.Path, req.URL.RawPath} {
		if hasTraversal(p) {
			return "path traversal detected"
		}
		if hasNullByte(p) {
			return "null byte detected in path"
		}
	}
	for name, values := range req.Header {
		for _, v := range values {
			switch {
			case len(v) > maxHeaderValueSize:
				return "header value exceeds maximum size: " + name
			case strings.ContainsAny(v, "\r\n"):
				return "header injection detected: " + name
			}
		}
	}
	if hasNullByteIn(req.URL.Query()) {
		return "null byte detected in query parameter"
	}
	return ""
}

func hasTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(strings.ToLower(s), "%00")
}

func hasNullByteIn(q url.Values) bool {
	for key, values := range q {
		if hasNullByte(key) {
			return true
		}
		for _, v := range values {
			if hasNullByte(v) {
				return true
			}
		}
	}
	return false
}

// SanitizeString drops control characters except line breaks and trims the
// result. Websocket payload fields go through it before validation.
func SanitizeString(input string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, input))
}
