package middleware

// session.go defines helper functions shared across middleware files.
// Sessions are opaque client-generated tokens, not authenticated
// identities; they arrive in the X-Session-ID header or the session_id
// query parameter. When neither is present, "anon" is returned so rate
// limit keys still bucket sensibly by IP and route.

import (
	"github.com/labstack/echo/v4"
)

// sessionID extracts the caller's session token from the request. It
// returns "anon" when the request carries no session.
func sessionID(c echo.Context) string {
	if v := c.Request().Header.Get("X-Session-ID"); v != "" {
		return v
	}
	if v := c.QueryParam("session_id"); v != "" {
		return v
	}
	return "anon"
}
