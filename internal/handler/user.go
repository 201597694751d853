package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/middleware"
	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/service"
)

// UserHandler serves /users.
type UserHandler struct {
	Friends *service.FriendService
	errs    errorWriter
}

func NewUserHandler(friends *service.FriendService, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{Friends: friends, errs: errorWriter{log: log}}
}

// GetUser returns one identity without its password hash.
func (h *UserHandler) GetUser(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Friends.GetUser(ctx, c.Param("id"))
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// ListFriends returns the summaries of :id's friends.
func (h *UserHandler) ListFriends(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.Friends.ListFriends(ctx, c.Param("id"))
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// ToggleFriend adds or removes the :id <-> :friendId edge. Only :id itself
// may change its friend list.
func (h *UserHandler) ToggleFriend(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.errs.write(c, model.ErrTokenMissing)
	}
	id, friendID := c.Param("id"), c.Param("friendId")
	if p.IdentityID != id {
		return h.errs.write(c, model.ErrForbidden)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	list, _, err := h.Friends.ToggleFriend(ctx, id, friendID)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, list)
}
