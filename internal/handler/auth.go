package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/service"
)

// AuthHandler serves /auth.
type AuthHandler struct {
	Auth *service.AuthService
	errs errorWriter
}

func NewAuthHandler(auth *service.AuthService, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{Auth: auth, errs: errorWriter{log: log}}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleReq struct {
	Token string `json:"token"`
}

type sessionResp struct {
	Success   bool        `json:"success"`
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func newSessionResp(res *service.AuthResult) sessionResp {
	return sessionResp{
		Success:   true,
		User:      res.User,
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt,
	}
}

// Register creates a local identity. The client logs in afterwards.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Auth.Register(ctx, req)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "user": u})
}

// Login exchanges email and password for a session token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, newSessionResp(res))
}

// GoogleLogin exchanges a Google ID token for a session token. The identity
// is provisioned on first use, so /auth/google-register is served by the
// same handler.
func (h *AuthHandler) GoogleLogin(c echo.Context) error {
	var req googleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.FederatedLogin(ctx, req.Token)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, newSessionResp(res))
}

// GoogleProfile previews the profile a Google registration would create.
func (h *AuthHandler) GoogleProfile(c echo.Context) error {
	var req googleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	profile, err := h.Auth.FederatedProfilePreview(ctx, req.Token)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "profile": profile})
}
