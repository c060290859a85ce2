package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chu/allocator/internal/config"
	"github.com/chu/allocator/internal/domain/allocation"
	"github.com/chu/allocator/internal/domain/facility"
	"github.com/chu/allocator/internal/platform/db"
	"github.com/chu/allocator/internal/platform/middleware"
	"github.com/chu/allocator/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "allocator-server",
		Short: "CHU patient allocation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilitiesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the allocation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run facility catalog database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
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
			ctx := cmd.Context()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrations(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrations(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func facilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facilities",
		Short: "Inspect and seed the facility catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the configured facility catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var pool *pgxpool.Pool
			if cfg.UsesDatabase() {
				if pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns); err != nil {
					return err
				}
				defer pool.Close()
			}

			facilities, err := catalogFor(cfg, pool).Load(ctx)
			if err != nil {
				return err
			}
			printFacilities(cmd.OutOrStdout(), facilities)
			return nil
		},
	})

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert a YAML facility catalog into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			ctx := cmd.Context()

			facilities, err := facility.NewFileCatalog(file).Load(ctx)
			if err != nil {
				return err
			}
			// Reject a catalog the server would refuse to start with.
			if _, err := facility.NewRegistry(facilities); err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := facility.NewPGCatalog(pool).Save(ctx, facilities); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d facilities from %s.\n", len(facilities), file)
			return nil
		},
	}
	seedCmd.Flags().String("file", "facilities.yaml", "YAML catalog to load")
	cmd.AddCommand(seedCmd)

	return cmd
}

func printFacilities(w io.Writer, facilities []facility.Facility) {
	fmt.Fprintf(w, "%-16s %-28s", "ID", "NAME")
	for _, k := range facility.Kinds() {
		fmt.Fprintf(w, " %12s", k.Key())
	}
	fmt.Fprintln(w)
	for _, f := range facilities {
		fmt.Fprintf(w, "%-16s %-28s", f.ID, f.Name)
		for _, k := range facility.Kinds() {
			fmt.Fprintf(w, " %12d", f.Capacity[k])
		}
		fmt.Fprintln(w)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesDatabase() {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// catalogFor picks the facility source: PostgreSQL when a pool is open,
// the YAML file otherwise.
func catalogFor(cfg *config.Config, pool *pgxpool.Pool) facility.Catalog {
	if pool != nil {
		return facility.NewPGCatalog(pool)
	}
	return facility.NewFileCatalog(cfg.FacilitiesFile)
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// server holds the wired HTTP surface. pool is nil when the catalog comes
// from the YAML file.
type server struct {
	echo     *echo.Echo
	registry *facility.Registry
	metrics  *prometheus.Registry
}

func newServer(cfg *config.Config, logger zerolog.Logger, registry *facility.Registry, pool *pgxpool.Pool) (*server, error) {
	promReg := telemetry.NewRegistry()
	promReg.MustRegister(facility.NewCollector(registry))
	httpMetrics := telemetry.NewHTTPMetrics(promReg)
	allocMetrics := allocation.NewMetrics(promReg)

	engine, err := allocation.NewEngine(registry, cfg.DefaultFacility, allocMetrics, logger)
	if err != nil {
		return nil, err
	}
	svc := allocation.NewService(allocation.NewValidator(cfg.DefaultWaitWindow), engine, allocMetrics, logger)
	svc.SetRetention(registry, cfg.RetainDays)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	allocation.NewHandler(svc).RegisterRoutes(e)
	facility.NewHandler(registry).RegisterRoutes(e.Group(""))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"facilities":   len(registry.Facilities()),
			"default_home": engine.DefaultHome(),
		})
	})
	if pool != nil {
		e.GET("/health/db", db.PoolHealthHandler(pool))
	}
	e.GET("/metrics", telemetry.Handler(promReg))

	return &server{echo: e, registry: registry, metrics: promReg}, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Facility catalog
	var pool *pgxpool.Pool
	if cfg.UsesDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}
	registry, err := facility.LoadRegistry(ctx, catalogFor(cfg, pool))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load facility catalog")
		return err
	}
	logger.Info().Int("facilities", len(registry.Facilities())).Msg("facility catalog loaded")

	srv, err := newServer(cfg, logger, registry, pool)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.echo.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
