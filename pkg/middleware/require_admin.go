package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAdmin ensures the authenticated user carries the admin role.
// Apply after JWTAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"message": "Authentication required",
				})
			}

			if !claims.IsAdmin() {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error":   "insufficient_permissions",
					"message": "Admin access required",
					"details": map[string]interface{}{
						"required_role": "admin",
						"current_role":  claims.AppMetadata.Role,
					},
				})
			}

			c.Set("user_role", claims.AppMetadata.Role)

			return next(c)
		}
	}
}
