/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, .env, LEDGER_* env vars)
  2. Build the zap logger
  3. Open storage (sqlite file, sqlite ":memory:", or "memory")
  4. Start the async audit sink
  5. Wire services and the HTTP router
  6. Start the overdue monitor and the server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the overdue monitor
  4. Drain the audit sink
  5. Close storage

EXAMPLES:
  # Run with file database
  LEDGER_DATABASE_PATH=./data/ledger.db ./server

  # Run with in-memory storage and JSON logs
  LEDGER_DATABASE_PATH=memory LEDGER_LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oleoverde/ledger-engine/api"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/config"
	"github.com/oleoverde/ledger-engine/logger"
	"github.com/oleoverde/ledger-engine/store/memory"
	"github.com/oleoverde/ledger-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	backend, closeBackend, err := openBackend(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeBackend()

	sink := audit.NewAsyncSink(log, backend, cfg.Audit.BufferSize)

	handler := api.Wire(backend, api.Options{
		Logger:         log,
		Audit:          sink,
		FallbackFactor: cfg.Pricing.FallbackFactor,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		Logger:         log,
	})

	monitor := api.NewOverdueMonitor(handler.Finance, cfg.Monitor.Interval, log)
	monitor.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)
	monitor.Stop()
	sink.Close()
	if dropped := sink.Dropped(); dropped > 0 {
		log.Warn("audit events dropped", zap.Int64("count", dropped))
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	log.Info("server stopped")
	return nil
}

// openBackend picks the storage for database.path. "memory" keeps
// everything in maps; any other value is a sqlite path.
func openBackend(path string) (api.Backend, func(), error) {
	if path == "memory" {
		return memory.New(), func() {}, nil
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
