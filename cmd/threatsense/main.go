// Package main is the entry point for the threatsense detection service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"threatsense/internal/alerting"
	"threatsense/internal/api"
	"threatsense/internal/config"
	"threatsense/internal/consumer"
	"threatsense/internal/detect"
	"threatsense/internal/engine"
	"threatsense/internal/enrich"
	apperrors "threatsense/internal/errors"
	"threatsense/internal/kafka"
	"threatsense/internal/middleware"
	"threatsense/internal/queue"
	"threatsense/internal/schema"
	"threatsense/internal/session"
	"threatsense/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	apperrors.ProductionMode = cfg.Server.Production()

	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"environment", cfg.Server.Environment,
		"queue_size", cfg.Queue.Size,
		"auth_enabled", cfg.Auth.Enabled,
		"sessions_backend", cfg.Sessions.Backend,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chClient, err := storage.NewClickHouseClient(cfg.ClickHouse)
	if err != nil {
		logger.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer chClient.Close()

	logger.Info("running database migrations")
	if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	eventStore := storage.NewEventStore(chClient)
	alertStore := storage.NewAlertStore(chClient)

	sessions, err := newSessionStore(cfg.Sessions)
	if err != nil {
		logger.Error("failed to connect to session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	alertManager := alerting.NewManager(alertStore, logger)
	if cfg.Notifications.Webhook.Enabled {
		alertManager.AddChannel(alerting.NewWebhookChannel(
			"webhook", cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Headers))
	}
	if cfg.Notifications.Slack.Enabled {
		alertManager.AddChannel(alerting.NewSlackChannel(
			cfg.Notifications.Slack.WebhookURL,
			cfg.Notifications.Slack.Channel,
			cfg.Notifications.Slack.Username))
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Error("failed to initialize kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		alertManager.AddChannel(alerting.NewKafkaChannel(producer))
	}

	var geoProvider enrich.GeoProvider = enrich.NoopGeoProvider{}
	if cfg.Geo.Enabled {
		geoProvider = enrich.NewHTTPGeoProvider(cfg.Geo)
	}
	enricher := enrich.NewEnricher(geoProvider, cfg.Geo.Timeout)

	ruleset := detect.NewRuleset(eventStore, sessions, cfg.Detection, logger)
	registry := detect.BuildRegistry(ruleset)

	eng := engine.New(schema.NewValidator(), enricher, eventStore, registry, alertManager, sessions, logger)

	buffer := queue.NewRingBuffer(cfg.Queue.Size)
	dispatcher := engine.NewDispatcher(buffer)
	workers := consumer.New(cfg.Consumer, buffer, eng, logger)
	workers.Start(ctx)

	handler := api.NewHandler(eng, dispatcher, eventStore, alertManager, registry, logger)
	mux := http.NewServeMux()
	handler.Routes(mux)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, logger)
	defer rateLimiter.Stop()
	auth := middleware.NewAPIKeyAuth(cfg.Auth, cfg.RateLimit.TrustProxy, logger)

	var root http.Handler = mux
	root = auth.Authenticate(dispatcher)(root)
	root = rateLimiter.RateLimit(dispatcher)(root)
	root = middleware.SecurityHeaders(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Drain queued events before releasing storage.
	workers.Stop()
	cancel()

	pushed, popped, dropped := buffer.Stats()
	logger.Info("shutdown complete", "pushed", pushed, "popped", popped, "dropped", dropped)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newSessionStore(cfg config.SessionsConfig) (session.Store, error) {
	if cfg.Backend == "redis" {
		return session.NewRedisStore(cfg.Redis)
	}
	return session.NewMemoryStore(), nil
}
