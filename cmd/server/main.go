package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/config"
	"github.com/iliyamo/vibe/internal/database"
	"github.com/iliyamo/vibe/internal/federated"
	"github.com/iliyamo/vibe/internal/handler"
	"github.com/iliyamo/vibe/internal/logger"
	"github.com/iliyamo/vibe/internal/metrics"
	"github.com/iliyamo/vibe/internal/middleware"
	"github.com/iliyamo/vibe/internal/queue"
	"github.com/iliyamo/vibe/internal/repository"
	"github.com/iliyamo/vibe/internal/router"
	"github.com/iliyamo/vibe/internal/service"
	"github.com/iliyamo/vibe/internal/token"
)

// stores bundles the repositories for the selected driver.
type stores struct {
	users   repository.CredentialStore
	friends repository.FriendStore
	posts   repository.PostStore
	checks  map[string]handler.Check
	close   func()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{"env": cfg.Env, "store": cfg.StoreDriver}).Info("starting")

	st, err := openStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	tokens, err := token.NewService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Fatal("token service")
	}
	appCtx, stop := context.WithCancel(context.Background())
	defer stop()
	verifier, err := federated.NewGoogleVerifier(appCtx, federated.GoogleConfig{
		ClientID: cfg.GoogleClientID,
		JWKSURL:  cfg.GoogleJWKSURL,
		Timeout:  cfg.FederatedTimeout,
		Log:      log,
	})
	if err != nil {
		log.WithError(err).Fatal("google verifier")
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting is per-process and Idempotency-Key is ignored")
	} else {
		defer rdb.Close()
		st.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var pub queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		pub = queue.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsQueue, log)
	} else {
		log.Info("RABBITMQ_URL not set, domain events are dropped")
	}
	defer pub.Close()

	deps := service.Deps{Publisher: pub, Metrics: rec, Log: log}
	auth, err := service.NewAuthService(st.users, tokens, verifier, service.AuthConfig{BcryptCost: cfg.BcryptCost}, deps)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}
	friends := service.NewFriendService(st.users, st.friends, deps)
	posts := service.NewPostService(st.posts, st.users, deps)
	engagement := service.NewEngagementService(st.posts, deps)

	e := router.New(router.Deps{
		Tokens:   tokens,
		Auth:     handler.NewAuthHandler(auth, log),
		Users:    handler.NewUserHandler(friends, log),
		Posts:    handler.NewPostHandler(posts, engagement, log),
		Health:   st.checks,
		Gatherer: reg,
		Redis:    rdb,
		Config:   cfg,
		Log:      log,
	},
		echomw.RequestID(),
		middleware.RequestLog(log, rec),
		echomw.Recover(),
		echomw.BodyLimit("2M"),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	if err := serve(e, ":"+cfg.Port, quit, log); err != nil {
		log.WithError(err).Error("graceful shutdown")
	}
	log.Info("stopped")
}

// serve runs e until a signal arrives on quit or the listener fails, then
// shuts it down. Both paths return normally so deferred closes still run.
func serve(e *echo.Echo, addr string, quit <-chan os.Signal, log logrus.FieldLogger) error {
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		serveErr <- e.Start(addr)
	}()

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}

func openStores(cfg config.Config, log *logrus.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, db, err := database.OpenMongo(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := database.EnsureMongoIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		users := repository.NewMongoUserRepo(client, db, log)
		return &stores{
			users:   users,
			friends: users,
			posts:   repository.NewMongoPostRepo(db),
			checks:  map[string]handler.Check{"mongo": func(ctx context.Context) error { return client.Ping(ctx, nil) }},
			close:   func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case config.DriverMemory:
		log.Warn("STORE_DRIVER=memory: data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			users:   mem,
			friends: mem,
			posts:   mem.Posts(),
			checks:  map[string]handler.Check{},
			close:   func() {},
		}, nil

	default:
		db, err := database.Open(cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := database.RunMigrations(db); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("migrations applied")
		}
		return &stores{
			users:   repository.NewUserRepo(db),
			friends: repository.NewFriendRepo(db),
			posts:   repository.NewPostRepo(db),
			checks:  map[string]handler.Check{"mysql": db.PingContext},
			close:   func() { _ = db.Close() },
		}, nil
	}
}
