package tokens

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
)

type jwtCustomClaims struct {
	Login string `json:"login"`

	jwt.StandardClaims
}

// GenerateAccessToken mints an operator access token, expiry in seconds.
func GenerateAccessToken(secret []byte, expiry int, login string) (string, error) {
	claims := &jwtCustomClaims{
		Login: login,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Duration(expiry) * time.Second).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// operator login in the echo context under "Login".
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c)
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			claims := &jwtCustomClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return unauthorized(c)
			}

			c.Set("Login", claims.Login)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{
		"error":   true,
		"code":    1,
		"message": "bad auth",
	})
}
