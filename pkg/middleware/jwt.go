package middleware

import (
	"net/http"
	"strings"

	"github.com/greenofig/greenofig/pkg/auth"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth
const (
	ContextKeyUserID = "user_id"
	ContextKeyClaims = "claims"
)

// JWTAuth authenticates requests carrying an auth provider access token
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token_format",
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}

			claims, err := auth.ValidateJWT(parts[1], secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: err.Error(),
				})
			}

			c.Set(ContextKeyUserID, claims.UserID())
			c.Set(ContextKeyClaims, claims)

			return next(c)
		}
	}
}

// UserID returns the authenticated user id, if any
func UserID(c echo.Context) (string, bool) {
	id, ok := c.Get(ContextKeyUserID).(string)
	return id, ok && id != ""
}

// ClaimsFrom returns the validated token claims, if any
func ClaimsFrom(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*auth.Claims)
	return claims, ok && claims != nil
}
