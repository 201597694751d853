package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/config"
	"github.com/iliyamo/vibe/internal/logger"
	"github.com/iliyamo/vibe/internal/queue"
)

// worker drains the domain events queue into the activity log.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.RabbitMQURL == "" {
		log.Fatal("RABBITMQ_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &queue.Consumer{
		URL:     cfg.RabbitMQURL,
		Queue:   cfg.EventsQueue,
		LogPath: cfg.ActivityLogPath,
		Log:     log,
	}
	log.WithFields(logrus.Fields{"queue": c.Queue, "log_path": c.LogPath}).Info("worker started")
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("consumer stopped")
	}
	log.Info("worker stopped")
}
