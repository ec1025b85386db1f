package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/cairn/internal/auth"
)

// requireBearerToken guards the API when a token hash is configured.
// With an empty hash the API is open, which is the expected setup behind
// a private network.
func requireBearerToken(tokenHash string) echo.MiddlewareFunc {
	hash := strings.TrimSpace(tokenHash)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hash == "" {
				return next(c)
			}

			token, found := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !found {
				return fail(c, http.StatusUnauthorized, "Missing bearer token", nil)
			}
			if !auth.VerifyToken(token, hash) {
				return fail(c, http.StatusUnauthorized, "Invalid bearer token", nil)
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(trimmed[len(prefix):])
	return token, token != ""
}
