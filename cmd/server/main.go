/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the campus reservation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store (migrations run on open)
  3. Optionally seed the demo campus
  4. Wire event sinks (log, RabbitMQ) and QR resolvers (Redis, catalog)
  5. Build the engine, handler and router
  6. Start the reconciliation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT or 8080)
  -db      SQLite database path (default: DB_PATH or campus.db)
           Use ":memory:" for in-memory database
  -seed    Load the demo campus on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush and close the RabbitMQ publisher
  5. Close database connection

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/campus.db"

  # Run with in-memory database and demo data
  JWT_SECRET=dev ./server -db=":memory:" -seed

  # Issue a token to call the API
  reservectl token --user stu-ada --role student --secret dev

ENVIRONMENT:
  See config/config.go for the full list.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - api/scheduler.go: Reconciliation scheduler
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

	"github.com/redis/go-redis/v9"
	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/campus"
	"github.com/warp/reservation-engine/config"
	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/notify"
	"github.com/warp/reservation-engine/qr"
	"github.com/warp/reservation-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.Bool("seed", false, "Load the demo campus on startup")
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath

	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, *seed, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, seed bool, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if seed {
		result, err := api.LoadDemoCampus(ctx, store)
		if err != nil {
			return fmt.Errorf("failed to seed demo campus: %w", err)
		}
		logger.Info("demo campus loaded", "resources", result.Resources, "users", result.Users)
	}

	resources, err := store.ListResources(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	// Event sinks
	events := notify.Fanout{notify.LogEmitter{Logger: logger}}
	if cfg.AMQPURL != "" {
		publisher, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("rabbitmq close failed", "error", err)
			}
			if n := publisher.Dropped(); n > 0 {
				logger.Warn("events dropped", "count", n)
			}
		}()
		events = append(events, publisher)
		logger.Info("publishing events", "exchange", cfg.AMQPExchange)
	}

	// QR token resolvers; Redis first so tokens can be rotated without a restart
	var tokens qr.Chain
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		tokens = append(tokens, qr.NewRedisResolver(client, ""))
		logger.Info("redis QR resolver enabled", "addr", cfg.RedisAddr)
	}
	tokens = append(tokens, qr.FromCatalog(resources, campus.DemoToken))

	engine := &generic.Engine{
		Store:         store,
		Users:         store,
		Resources:     store,
		Closures:      store,
		Tokens:        tokens,
		Events:        events,
		Clock:         generic.RealClock{},
		Logger:        logger,
		SeriesHorizon: cfg.SeriesHorizon,
	}

	// Initialize handler and router
	handler := api.NewHandler(engine, store, logger)
	router := api.NewRouter(handler, []byte(cfg.JWTSecret))

	scheduler := api.NewReconciliationScheduler(engine, store)
	scheduler.Logger = logger
	scheduler.CheckInterval = cfg.SweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "resources", len(resources))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
