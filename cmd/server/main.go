/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Initialize logger (zap)
  3. Initialize SQLite store
  4. Wire domain services (ledger, rules, requests, jobs)
  5. Start scheduler and HTTP server with graceful shutdown

CONFIGURATION (environment):
  APP_ADDR             Listen address (default: :8080)
  DB_PATH              SQLite database path (default: ./data/leave.db)
                       Use ":memory:" for an in-memory database
  APP_ENV              development | production
  CORS_ORIGINS         Comma-separated allowed origins
  SCHEDULER_ENABLED    Run accrual/carry-forward scheduler (default: true)
  SCHEDULER_INTERVAL   Scheduler check interval (default: 1h)

  The -addr and -db flags override APP_ADDR and DB_PATH.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Domain wiring
	ledger := leave.NewBalanceLedger(store)
	rules := leave.NewRuleEngine(store, store, logger)
	notifier := leave.NewLogNotifier(logger)
	requests := leave.NewRequestService(store, ledger, rules, store, notifier, logger)
	accrual := leave.NewAccrualJob(store, ledger, store, notifier, logger)
	carryForward := leave.NewCarryForwardJob(store, ledger, logger)

	handler := api.NewHandler(requests, ledger, accrual, carryForward, store, logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewScheduler(accrual, carryForward, logger)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Environment),
			zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop()
	logger.Info("server stopped")
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.IsProduction() {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
