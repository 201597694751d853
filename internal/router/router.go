package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/config"
	"github.com/iliyamo/vibe/internal/handler"
	"github.com/iliyamo/vibe/internal/metrics"
	"github.com/iliyamo/vibe/internal/middleware"
	"github.com/iliyamo/vibe/internal/token"
)

// Deps is everything the routes need.
type Deps struct {
	Tokens   *token.Service
	Auth     *handler.AuthHandler
	Users    *handler.UserHandler
	Posts    *handler.PostHandler
	Health   map[string]handler.Check
	Gatherer prometheus.Gatherer
	Redis    *redis.Client
	Config   config.Config
	Log      logrus.FieldLogger
}

// RegisterRoutes registers the probe and scrape endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.Health))
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(d.Gatherer)))
	}
}

// RegisterAuth registers the unauthenticated /auth routes. Both Google
// routes exchange an ID token for a session; registration happens on first
// use.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/auth", middleware.NewTokenBucket(d.Config.RateLimit, d.Redis, d.Log))
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/google-login", d.Auth.GoogleLogin)
	g.POST("/google-register", d.Auth.GoogleLogin)
	g.POST("/google-profile", d.Auth.GoogleProfile)
}

// RegisterSocial registers /users and /posts. Every route requires a
// session token; the rate limiter runs after the gate so buckets can be
// keyed by identity. Toggles and comments honour Idempotency-Key.
func RegisterSocial(e *echo.Echo, d Deps) {
	gate := middleware.AuthGate(d.Tokens, d.Log)
	limit := middleware.NewTokenBucket(d.Config.RateLimit, d.Redis, d.Log)
	idem := middleware.Idempotency(d.Config.Idempotency, d.Redis, d.Log)

	users := e.Group("/users", gate, limit)
	users.GET("/:id", d.Users.GetUser)
	users.GET("/:id/friends", d.Users.ListFriends)
	users.PATCH("/:id/:friendId", d.Users.ToggleFriend, idem)

	posts := e.Group("/posts", gate, limit)
	posts.GET("", d.Posts.Feed)
	posts.POST("", d.Posts.Create)
	posts.GET("/:userId/posts", d.Posts.ByUser)
	posts.PATCH("/:id/like", d.Posts.Like, idem)
	posts.PATCH("/:id/comment", d.Posts.Comment, idem)
}

// New builds the echo instance with every route registered.
func New(d Deps, mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(mw...)
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	})
	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterSocial(e, d)
	return e
}
