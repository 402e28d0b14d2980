package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/practicehub/calendar/internal/config"
	"github.com/practicehub/calendar/internal/domain/billing"
	"github.com/practicehub/calendar/internal/domain/calendar"
	"github.com/practicehub/calendar/internal/platform/auth"
	"github.com/practicehub/calendar/internal/platform/db"
	"github.com/practicehub/calendar/internal/platform/events"
	"github.com/practicehub/calendar/internal/platform/middleware"
	"github.com/practicehub/calendar/internal/platform/recurrence"
	"github.com/practicehub/calendar/internal/platform/telemetry"
	"github.com/practicehub/calendar/internal/platform/websocket"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(cfg.ZerologLevel()).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(cfg.ZerologLevel()).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.OTelServiceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up tracing")
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.KafkaAppointmentTopic, logger)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaAppointmentTopic).Msg("publishing appointment events")
	}
	defer publisher.Close()

	var limiter middleware.Counter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = middleware.NewRedisCounter(rdb)
		logger.Info().Int("requests", cfg.RateLimitRequests).Dur("window", cfg.RateLimitWindow).Msg("rate limiting enabled")
	}

	e := newServer(cfg, logger, pool, publisher, limiter)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newServer wires middleware and routes. It does not touch the pool until a
// request arrives. A nil limiter disables rate limiting.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, publisher events.Publisher, limiter middleware.Counter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development auth enabled: unauthenticated requests run as admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	if limiter != nil {
		e.Use(middleware.RateLimit(limiter, middleware.RateLimitConfig{
			Limit:    cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
			Prefix:   "calendar:rl",
			FailOpen: cfg.RateLimitFailOpen,
		}, logger))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1", db.TenantMiddleware(pool, cfg.DefaultTenant), middleware.Audit(logger))

	// Hijacked live feed connections outlive Shutdown unless the hub closes them.
	hub := websocket.NewHub(logger.With().Str("component", "live").Logger())
	e.Server.RegisterOnShutdown(func() { hub.Close() })
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	invoices := billing.NewInvoiceRepoPG(pool)
	txRunner := db.NewTxRunner(pool)

	calendarSvc := calendar.NewService(
		calendar.NewAppointmentRepoPG(pool),
		calendar.NewTagRepoPG(pool),
		calendar.NewClientGroupRepoPG(pool),
		invoices,
		txRunner,
		calendar.Options{
			DailyLimit: cfg.AppointmentDailyLimit,
			Expander:   recurrence.NewExpander(cfg.RecurrenceDefaultOccurrences, cfg.RecurrenceMaxOccurrences),
			Publisher:  events.Fanout{publisher, hub},
			Logger:     logger.With().Str("component", "calendar").Logger(),
		},
	)
	calendar.NewHandler(calendarSvc).RegisterRoutes(apiV1)

	billingSvc := billing.NewService(invoices, billing.NewPaymentRepoPG(pool), txRunner,
		logger.With().Str("component", "billing").Logger())
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	return e
}
