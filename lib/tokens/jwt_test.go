package tokens

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func protectedEcho(secret []byte) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("Login").(string))
	}, Middleware(secret))
	return e
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateAccessToken(secret, 3600, "admin")
	assert.NoError(t, err)

	e := protectedEcho(secret)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	e := protectedEcho([]byte("test-secret"))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken([]byte("other-secret"), 3600, "admin")
	assert.NoError(t, err)

	e := protectedEcho([]byte("test-secret"))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateAccessToken(secret, -10, "admin")
	assert.NoError(t, err)

	e := protectedEcho(secret)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
