package auth

// publicPaths lists route paths that bypass authentication. The websocket
// route authenticates with its own query-string token before upgrading.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/ws/chat":   true,
}

// IsPublicPath reports whether the given route path skips bearer authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
