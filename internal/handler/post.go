package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/middleware"
	"github.com/iliyamo/vibe/internal/model"
	"github.com/iliyamo/vibe/internal/service"
)

// PostHandler serves /posts.
type PostHandler struct {
	Posts      *service.PostService
	Engagement *service.EngagementService
	errs       errorWriter
}

func NewPostHandler(posts *service.PostService, engagement *service.EngagementService, log logrus.FieldLogger) *PostHandler {
	return &PostHandler{Posts: posts, Engagement: engagement, errs: errorWriter{log: log}}
}

type likeReq struct {
	UserID string `json:"userId"`
}

type commentReq struct {
	Comment string `json:"comment"`
}

// Feed lists posts newest first. ?limit= is optional.
func (h *PostHandler) Feed(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	posts, err := h.Posts.Feed(ctx, limit)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, posts)
}

// ByUser lists one author's posts.
func (h *PostHandler) ByUser(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	posts, err := h.Posts.ByUser(ctx, c.Param("userId"))
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, posts)
}

// Create stores a post authored by the caller.
func (h *PostHandler) Create(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.errs.write(c, model.ErrTokenMissing)
	}
	var req service.CreatePostInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	post, err := h.Posts.Create(ctx, p.IdentityID, req)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusCreated, post)
}

// Like toggles the caller's like on :id. A body userId, when present, must
// name the caller.
func (h *PostHandler) Like(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.errs.write(c, model.ErrTokenMissing)
	}
	var req likeReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
	}
	if req.UserID != "" && req.UserID != p.IdentityID {
		return h.errs.write(c, model.ErrForbidden)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	post, err := h.Engagement.ToggleLike(ctx, c.Param("id"), p.IdentityID)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, post)
}

// Comment appends the caller's comment to :id.
func (h *PostHandler) Comment(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return h.errs.write(c, model.ErrTokenMissing)
	}
	var req commentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	post, err := h.Engagement.AppendComment(ctx, c.Param("id"), p.IdentityID, req.Comment)
	if err != nil {
		return h.errs.write(c, err)
	}
	return c.JSON(http.StatusOK, post)
}
