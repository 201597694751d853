package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/token"
)

const bearerPrefix = "Bearer "

// AuthGate admits a request only when it carries a valid session token in
// the Authorization header. A missing header, or a scheme with no token
// after it, is answered with 403. A token that fails verification is
// answered with 401. On success the verified principal is stored in the
// context; see PrincipalFrom.
func AuthGate(tokens *token.Service, log logrus.FieldLogger) echo.MiddlewareFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Access Denied"})
			}

			p, err := tokens.Verify(raw)
			if err != nil {
				reason := "malformed"
				if errors.Is(err, model.ErrTokenExpired) {
					reason = "expired"
				}
				log.WithFields(logrus.Fields{
					"reason":     reason,
					"path":       c.Path(),
					"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				}).WithError(err).Info("bearer token rejected")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			SetPrincipal(c, p)
			return next(c)
		}
	}
}

// bearerToken extracts the token after the "Bearer " scheme. The scheme
// itself is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	return raw, raw != ""
}
