package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greenofig/greenofig/pkg/auth"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-minimum-32-characters-long"

func runJWT(t *testing.T, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlements", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTAuth(testSecret)(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c)
	require.NoError(t, err)
	return rec, c
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestJWTAuth_ValidToken(t *testing.T) {
	token, err := auth.GenerateJWT("user-42", "ana@example.com", "", testSecret, time.Hour)
	require.NoError(t, err)

	rec, c := runJWT(t, "Bearer "+token)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	userID, ok := UserID(c)
	assert.True(t, ok)
	assert.Equal(t, "user-42", userID)

	claims, ok := ClaimsFrom(c)
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestJWTAuth_Rejections(t *testing.T) {
	expired, err := auth.GenerateJWT("user-42", "", "", testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.GenerateJWT("user-42", "", "", "some-other-secret-with-enough-length", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "missing_token"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid_token_format"},
		{"extra parts", "Bearer a b", "invalid_token_format"},
		{"garbage token", "Bearer not-a-jwt", "invalid_token"},
		{"expired token", "Bearer " + expired, "invalid_token"},
		{"wrong secret", "Bearer " + foreign, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, c := runJWT(t, tt.header)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
			_, ok := UserID(c)
			assert.False(t, ok)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	admin, err := auth.GenerateJWT("ops-1", "ops@example.com", auth.RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	member, err := auth.GenerateJWT("user-1", "ana@example.com", "", testSecret, time.Hour)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_role").(string))
	}, JWTAuth(testSecret), RequireAdmin())

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := send(admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.RoleAdmin, rec.Body.String())

	rec = send(member)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_permissions", errorCode(t, rec))
}

func TestRequireAdmin_WithoutAuthentication(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin", nil), rec)

	err := RequireAdmin()(func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))
}
