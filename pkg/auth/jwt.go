package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the app_metadata role granted to operators
const RoleAdmin = "admin"

// AppMetadata carries the provider-managed claims a user cannot edit
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims represents the auth provider's access token claims.
// The user identity is the standard subject claim.
type Claims struct {
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user's identity
func (c *Claims) UserID() string {
	return c.Subject
}

// IsAdmin reports whether the token belongs to an operator
func (c *Claims) IsAdmin() bool {
	return c.AppMetadata.Role == RoleAdmin
}

// GenerateJWT issues an HS256 token in the auth provider's format.
// Used by tests and local tooling; production tokens come from the provider.
func GenerateJWT(userID, email, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:       email,
		Role:        "authenticated",
		AppMetadata: AppMetadata{Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT validates a token and returns its claims
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
