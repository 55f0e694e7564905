package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/bot"
	"promo-autoresponder/pkg/config"
	"promo-autoresponder/pkg/cooldown"
	"promo-autoresponder/pkg/logging"
	"promo-autoresponder/pkg/metrics"
	redisClient "promo-autoresponder/pkg/redis"
	"promo-autoresponder/pkg/script"
	"promo-autoresponder/pkg/session"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	logger.WithField("instance_id", cfg.InstanceID).Info("Starting promo auto-responder")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Initialize metrics
	metrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Load reply script
	replies, err := script.Load(cfg.ScriptPreset, cfg.ScriptFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load reply script")
	}
	if cfg.MediaPath != "" {
		replies.MediaPath = cfg.MediaPath
	}
	logger.WithFields(logrus.Fields{
		"preset":   replies.Name,
		"media":    replies.MediaPath,
		"keywords": len(replies.Keywords),
	}).Info("Reply script loaded")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Greeted senders live in memory unless Redis is configured
	storeOpts := cooldown.Options{TTL: cfg.Cooldown(), Once: cfg.GreetOnce()}
	var store cooldown.Store = cooldown.NewMemoryStore(storeOpts)
	if cfg.RedisURL != "" {
		redisConfig := redisClient.DefaultConnectionConfig()
		redisConfig.URL = cfg.RedisURL

		redis, err := redisClient.NewClient(ctx, redisConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()

		store = cooldown.NewRedisStore(redis.GetRedisClient(), storeOpts, logger, metrics)
	}

	// Open the device store
	connector, err := session.NewConnector(ctx, session.ConnectorConfig{
		Dialect:        cfg.StoreDialect,
		DSN:            cfg.StoreDSN,
		SendRatePerSec: cfg.SendRatePerSec,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open device store")
	}
	defer connector.Close()

	service := bot.NewService(cfg, connector.New, store, replies, prometheus.DefaultGatherer, logger, metrics)

	// Start service
	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during service shutdown")
	}

	logger.Info("Promo auto-responder shutdown complete")
}
