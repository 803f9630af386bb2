package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medpod/medpod/internal/config"
	"github.com/medpod/medpod/internal/domain/identity"
	"github.com/medpod/medpod/internal/domain/messaging"
	"github.com/medpod/medpod/internal/domain/portal"
	"github.com/medpod/medpod/internal/domain/treatment"
	"github.com/medpod/medpod/internal/platform/auth"
	"github.com/medpod/medpod/internal/platform/db"
	"github.com/medpod/medpod/internal/platform/middleware"
	"github.com/medpod/medpod/internal/platform/telemetry"
	"github.com/medpod/medpod/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medpod-server",
		Short: "Medication pod monitoring API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(projectCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, dir).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, dir).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
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
	return fn(ctx, pool)
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

// projectCmd prints the dosage projection of a config given on the command
// line, without touching the database.
func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Print the dosage projection for a device config",
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, _ := cmd.Flags().GetFloat64("initial")
			remaining, _ := cmd.Flags().GetFloat64("remaining")
			schedule, _ := cmd.Flags().GetStringSlice("schedule")
			at, _ := cmd.Flags().GetString("at")
			policyName, _ := cmd.Flags().GetString("policy")

			now, err := parseAt(at, time.Now())
			if err != nil {
				return err
			}
			policy, err := treatment.ParsePolicy(policyName)
			if err != nil {
				return err
			}
			plan, err := treatment.Project(treatment.DeviceDosageConfig{
				InitialMedication: initial,
				MedicationLeft:    remaining,
				Schedule:          schedule,
			}, now, policy)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().Float64("initial", 0, "Initial medication volume in ml")
	cmd.Flags().Float64("remaining", 0, "Medication left in ml")
	cmd.Flags().StringSlice("schedule", nil, "Comma-separated HH:MM dose times")
	cmd.Flags().String("at", "", "Wall-clock time (HH:MM) to project at; defaults to now")
	cmd.Flags().String("policy", "clock", "Completion policy: clock or lexical")
	return cmd
}

// parseAt returns today's date at the given HH:MM, or now when at is empty.
func parseAt(at string, now time.Time) (time.Time, error) {
	if at == "" {
		return now, nil
	}
	tod, err := treatment.ParseTimeOfDay(at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, now.Location()), nil
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newGateway picks the messages backend named by MESSAGES_BACKEND.
func newGateway(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (messaging.Gateway, error) {
	switch cfg.MessagesBackend {
	case "", "store":
		return messaging.NewStoreGateway(pool), nil
	case "http":
		return messaging.NewHTTPGateway(cfg.MessagesURL, cfg.MessagesTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown messages backend %q", cfg.MessagesBackend)
	}
}

type server struct {
	echo      *echo.Echo
	refresher *treatment.Refresher
}

// newServer wires every domain onto a fresh echo instance. pool is only
// dereferenced by request handlers, so tests may pass nil.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := treatment.ParsePolicy(cfg.CompletionPolicy)
	if err != nil {
		return nil, err
	}
	gateway, err := newGateway(cfg, pool, logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New()
	hub := websocket.NewHub(logger)
	hub.OnChange(metrics.SetSubscribers)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	}
	e.GET("/metrics", metrics.Handler())

	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(cfg.DevUserEmail, jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Identity
	identitySvc := identity.NewService(
		identity.NewPatientRepo(pool),
		identity.NewPhysicianRepo(pool),
		identity.NewFavoriteRepo(pool),
	)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Treatment
	treatmentSvc := treatment.NewService(treatment.NewConfigRepoPG(pool), treatment.SystemClock, policy)
	treatmentSvc.SetLocation(loc)
	treatmentSvc.SetMetrics(metrics)
	treatment.NewHandler(treatmentSvc, hub).RegisterRoutes(apiV1)

	// Messaging
	messagingSvc := messaging.NewService(gateway, identitySvc, logger)
	messagingSvc.SetMetrics(metrics)
	messaging.NewHandler(messagingSvc).RegisterRoutes(apiV1)

	// Portal screens
	portalSvc := portal.NewService(identitySvc, messagingSvc, treatmentSvc, logger)
	portal.NewHandler(portalSvc).RegisterRoutes(apiV1)

	return &server{
		echo:      e,
		refresher: treatment.NewRefresher(treatmentSvc, hub, cfg.TreatmentRefreshInterval, logger),
	}, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	srv, err := newServer(cfg, pool, logger)
	if err != nil {
		return err
	}

	if err := srv.refresher.Start(); err != nil {
		return err
	}
	defer srv.refresher.Stop()

	addr := ":" + strings.TrimPrefix(cfg.Port, ":")
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("messages_backend", cfg.MessagesBackend).
			Str("completion_policy", cfg.CompletionPolicy).
			Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
