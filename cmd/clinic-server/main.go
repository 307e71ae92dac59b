package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/domain/booking"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/domain/visit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/metrics"
	"github.com/clinic/clinic/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Mobile clinic operations API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				migrator := db.NewMigrator(pool, dir)
				count, err := migrator.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s).\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				migrator := db.NewMigrator(pool, dir)
				statuses, err := migrator.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedCmd loads a small development data set: a few consumables and one
// route location with generated slots.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert development seed data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				clk := clock.System()
				recorder := audit.NewService(audit.NewRepoPG(pool), clk)
				runTx := db.NewRunner(pool)
				system := auth.Identity{
					UserID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("seed")),
					Role:   auth.RoleAdministrator,
				}

				consumables := []struct {
					name string
					unit string
					ro   int
				}{
					{"Gauze Swabs", "pack", 20},
					{"Examination Gloves", "box", 10},
					{"Paracetamol 500mg", "tablet", 200},
					{"Syringe 5ml", "unit", 50},
				}
				for _, c := range consumables {
					_, err := pool.Exec(ctx, `
						INSERT INTO consumables (id, name, unit, reorder_level)
						VALUES ($1, $2, $3, $4)
						ON CONFLICT (name) DO NOTHING`,
						uuid.New(), c.name, c.unit, c.ro,
					)
					if err != nil {
						return fmt.Errorf("seed consumable %s: %w", c.name, err)
					}
				}
				fmt.Printf("Seeded %d consumables.\n", len(consumables))

				day := clk.Now().AddDate(0, 0, 7).Truncate(24 * time.Hour)
				loc := &booking.RouteLocation{
					ID:              uuid.New(),
					LocationName:    "Community Hall",
					Province:        "Western Cape",
					VisitDate:       day,
					StartTime:       day.Add(9 * time.Hour),
					EndTime:         day.Add(15 * time.Hour),
					SlotMinutes:     30,
					MaxAppointments: 12,
					CreatedAt:       clk.Now(),
				}
				locations := booking.NewLocationRepoPG(pool)
				if err := locations.Create(ctx, loc); err != nil {
					return fmt.Errorf("seed route location: %w", err)
				}

				bookingSvc := booking.NewService(
					locations, booking.NewAppointmentRepoPG(pool), recorder, runTx, clk)
				created, err := bookingSvc.GenerateSlots(ctx, system, loc.ID)
				if err != nil {
					return fmt.Errorf("generate seed slots: %w", err)
				}
				fmt.Printf("Seeded route location %s with %d slots.\n", loc.LocationName, created)
				return nil
			})
		},
	}
}

func withPool(fn func(context.Context, *config.Config, *pgxpool.Pool) error) error {
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

	return fn(ctx, cfg, pool)
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

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

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := metrics.NewHTTP(registry)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Unauthenticated surface
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler(registry))

	public := e.Group("/public")

	// Authenticated API
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	// Shared plumbing
	clk := clock.System()
	runTx := db.NewRunner(pool)

	auditSvc := audit.NewService(audit.NewRepoPG(pool), clk)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)

	visitSvc := visit.NewService(
		visit.NewVisitRepoPG(pool),
		visit.NewStageRepoPG(pool),
		visit.NewProgressRepoPG(pool),
		visit.NewNoteRepoPG(pool),
		auditSvc, runTx, clk,
	)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)

	inventorySvc := inventory.NewService(
		inventory.NewConsumableRepoPG(pool),
		inventory.NewBatchRepoPG(pool),
		inventory.NewUsageRepoPG(pool),
		auditSvc, runTx, clk,
	)
	inventory.NewHandler(inventorySvc, cfg.ExpiryAlertDays).RegisterRoutes(apiV1)

	bookingSvc := booking.NewService(
		booking.NewLocationRepoPG(pool),
		booking.NewAppointmentRepoPG(pool),
		auditSvc, runTx, clk,
	)
	bookingHandler := booking.NewHandler(bookingSvc)
	bookingHandler.RegisterRoutes(apiV1)
	bookingHandler.RegisterPublicRoutes(public)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
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
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
