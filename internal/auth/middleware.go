package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// UserIDContextKey is the echo context key holding the authenticated identity id.
const UserIDContextKey = "user_id"

// Skipper decides whether a request bypasses JWT verification.
type Skipper func(c echo.Context) bool

// JWTMiddleware verifies the bearer token on every non-skipped request and
// stores the subject identity id on the echo context.
func JWTMiddleware(secret string, skip Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			subject, err := VerifyToken(ExtractToken(c.Request()), secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
			}
			c.Set(UserIDContextKey, subject)
			return next(c)
		}
	}
}

// UserID returns the authenticated identity id stored by JWTMiddleware.
func UserID(c echo.Context) string {
	if id, ok := c.Get(UserIDContextKey).(string); ok {
		return id
	}
	return ""
}
