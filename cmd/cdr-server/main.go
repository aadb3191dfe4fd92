package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cdr/cdr/internal/config"
	"github.com/cdr/cdr/internal/domain/concept"
	"github.com/cdr/cdr/internal/domain/encounter"
	"github.com/cdr/cdr/internal/domain/obs"
	"github.com/cdr/cdr/internal/domain/person"
	"github.com/cdr/cdr/internal/platform/auth"
	"github.com/cdr/cdr/internal/platform/db"
	"github.com/cdr/cdr/internal/platform/events"
	"github.com/cdr/cdr/internal/platform/metrics"
	"github.com/cdr/cdr/internal/platform/middleware"
	"github.com/cdr/cdr/internal/platform/objectstore"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cdr-server",
		Short: "Clinical data repository API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the observation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// newLogger builds the process logger from config. Unknown levels fall back
// to info rather than failing startup.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// newValueStore picks the complex-value backend. Without an endpoint the
// in-memory store is used, which loses payloads on restart.
func newValueStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (obs.ValueStore, error) {
	if cfg.ObjectStoreEndpoint == "" {
		logger.Warn().Msg("OBJECT_STORE_ENDPOINT not set; complex observation values are held in memory")
		return objectstore.NewMemoryStore(), nil
	}

	store, err := objectstore.NewMinioStore(ctx, objectstore.Config{
		Endpoint:  cfg.ObjectStoreEndpoint,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		Bucket:    cfg.ObjectStoreBucket,
		UseSSL:    cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	logger.Info().
		Str("endpoint", cfg.ObjectStoreEndpoint).
		Str("bucket", cfg.ObjectStoreBucket).
		Msg("object store connected")
	return store, nil
}

// newPublisher picks the lifecycle-event backend. The returned closer is
// always safe to call.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	if !cfg.EventsEnabled() {
		logger.Info().Msg("AMQP_URL not set; lifecycle events are disabled")
		return events.NewNoopPublisher(), func() {}, nil
	}

	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("event publisher: %w", err)
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("event publisher connected")
	return pub, func() { _ = pub.Close() }, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	valueStore, err := newValueStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up object store")
	}

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up event publisher")
	}
	defer closePublisher()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "64M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if cfg.MetricsEnabled {
		e.Use(metrics.Middleware())
	}

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.AuthIssuer,
		}, auth.AuthSkipper))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler())
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// -- Register Domain Handlers --

	// Observation domain
	obsRepo := obs.NewRepo(pool)
	mimeRepo := obs.NewMimeTypeRepo(pool)
	obsSvc := obs.NewService(obsRepo, mimeRepo)
	obsSvc.SetAuthorizer(auth.NewAuthorizer())
	obsSvc.SetValueStore(valueStore)
	obsSvc.SetPublisher(publisher)
	obsHandler := obs.NewHandler(obsSvc)
	obsHandler.RegisterRoutes(apiV1)

	// Person registry
	personRepo := person.NewRepo(pool)
	personSvc := person.NewService(personRepo)
	personHandler := person.NewHandler(personSvc)
	personHandler.RegisterRoutes(apiV1)

	// Encounter registry
	encRepo := encounter.NewRepo(pool)
	encSvc := encounter.NewService(encRepo)
	encHandler := encounter.NewHandler(encSvc)
	encHandler.RegisterRoutes(apiV1)

	// Concept dictionary
	conceptRepo := concept.NewRepo(pool)
	conceptSvc := concept.NewService(conceptRepo)
	conceptHandler := concept.NewHandler(conceptSvc)
	conceptHandler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
