// Package middleware carries the engine's control-plane request identity:
// a placeholder X-User-ID identity (no authorization decision is made
// from it), adapted from the teacher's cmd/orchestrator/middleware. Rate
// limiting lives in common/middleware, not here.
package middleware

import (
	"github.com/labstack/echo/v4"
)

const userIDHeader = "X-User-ID"
const anonymousUser = "anonymous"

// ExtractUserID stashes the caller's X-User-ID (or "anonymous") into the
// echo context for downstream handlers/middleware to read. This is
// identity plumbing, not authorization - spec.md explicitly scopes
// control-plane auth design out.
func ExtractUserID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(userIDHeader)
			if userID == "" {
				userID = anonymousUser
			}
			c.Set("user_id", userID)
			return next(c)
		}
	}
}

// UserID reads the identity ExtractUserID stashed on the context.
func UserID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return anonymousUser
}
