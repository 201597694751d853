package middleware

// identity.go holds the context helpers shared by the gate, the rate
// limiter, the idempotency layer and the handlers.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vibe/internal/model"
)

const principalKey = "principal"

// SetPrincipal stores the verified request identity in the echo context.
func SetPrincipal(c echo.Context, p model.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the identity stored by AuthGate.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(principalKey).(model.Principal)
	return p, ok && p.IdentityID != ""
}

// userID returns the caller's identity id, or "anon" on ungated routes.
func userID(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return p.IdentityID
	}
	return "anon"
}
