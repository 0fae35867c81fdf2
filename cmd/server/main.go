/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the contributor rewards server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load the TOML config
  2. Set up structured logging and metrics
  3. Open the SQLite store
  4. Build the program rules (definition file or a built-in preset)
  5. Wire the engine: store, rules, payout outbox, metrics, logger
  6. Initialize the program if an authority is configured and none exists
  7. Start the period scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  TOML config file (default: rewards.toml, optional)
  -port    HTTP server port, overrides server.listen
  -db      SQLite database path, overrides storage.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  REWARDS_LISTEN, REWARDS_DB, REWARDS_LOG_LEVEL override the file.
  Flags override both.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/rewards.db"

  # Run with a config file on a different port
  ./server -config=/etc/rewards.toml -port=3000

SEE ALSO:
  - config/config.go: Configuration sections
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/contributor-rewards/api"
	"github.com/warp/contributor-rewards/config"
	"github.com/warp/contributor-rewards/factory"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/observability"
	"github.com/warp/contributor-rewards/rewards"
	"github.com/warp/contributor-rewards/store/sqlite"
)

const serviceName = "contributor-rewards"

func main() {
	// Flags
	configPath := flag.String("config", "rewards.toml", "TOML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.SetPort(*port)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	logger := observability.SetupLogging(serviceName, cfg.Logging.Env, cfg.Logging.Level, observability.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics("rewards")

	// Initialize store
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	program, err := loadProgram(cfg.Program)
	if err != nil {
		return err
	}

	engine := rewards.NewEngine(store).WithRules(program.Rules)
	engine.Transfers = store
	engine.Metrics = metrics
	engine.Logger = logger

	ctx := context.Background()
	if err := bootstrap(ctx, engine, cfg.Program, program.Args, logger); err != nil {
		return err
	}

	handler := api.NewHandler(engine, store)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:   cfg.Server.CORSOrigins,
		Auth:          api.NewAuthenticator(cfg.Auth.RequireSignatures, cfg.Auth.MaxClockSkew),
		RateLimiter:   api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Metrics:       metrics,
		DemoScenarios: cfg.Server.DemoScenarios,
	})
	if cfg.Server.DemoScenarios {
		logger.Warn("demo scenario routes enabled; loading a scenario wipes the store")
	}

	scheduler := api.NewPeriodScheduler(engine)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "listen", cfg.Server.Listen, "db", cfg.Storage.Path, "program", program.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// loadProgram builds the program from the definition file when one is
// configured, otherwise from the config values and the named preset.
func loadProgram(pc config.Program) (*rewards.ProgramConfig, error) {
	if pc.DefinitionFile != "" {
		program, err := factory.NewProgramFactory().LoadFile(pc.DefinitionFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load program definition: %w", err)
		}
		return program, nil
	}

	schedule := generic.PeriodConfig{Type: generic.PeriodType(pc.PeriodType), Length: pc.PeriodLength}
	if pc.PeriodType == "" {
		schedule.Type = generic.PeriodManual
	}
	program, err := rewards.PresetProgram(pc.Preset, rewards.InitializeArgs{
		MonthlyThreshold: pc.MonthlyThreshold,
		ReserveRatio:     pc.ReserveRatioBps,
		MaxPointsPerType: pc.MaxPointsPerType,
		InitialReserve:   pc.InitialReserve,
		Schedule:         schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}
	return &program, nil
}

// bootstrap initializes the program on first start when an authority is
// configured. An existing program is left untouched.
func bootstrap(ctx context.Context, engine *rewards.Engine, pc config.Program, args rewards.InitializeArgs, logger *slog.Logger) error {
	if pc.Authority == "" {
		return nil
	}
	if _, err := engine.Config(ctx); err == nil {
		return nil
	} else if !errors.Is(err, generic.ErrNotInitialized) {
		return fmt.Errorf("failed to read program: %w", err)
	}
	if pc.InitialReserve > 0 && args.InitialReserve == 0 {
		args.InitialReserve = pc.InitialReserve
	}
	if _, err := engine.Initialize(ctx, generic.Identity(pc.Authority), args); err != nil {
		return fmt.Errorf("failed to initialize program: %w", err)
	}
	logger.Info("program initialized", "authority", pc.Authority)
	return nil
}
