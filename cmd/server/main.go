/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the deposit engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, then apply flag overrides
  2. Open the store (SQLite, PostgreSQL or memory)
  3. Choose the locker (Redis when REDIS_ADDR is set, in-process otherwise)
  4. Build the interest, fixed deposit and teller engines
  5. Configure the HTTP router and start the quarter-end scheduler if enabled
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_ADDR)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight pass finishes first)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store and the Redis client

EXAMPLES:
  # Run with file database
  ./server -db="./data/deposits.db"

  # Run against PostgreSQL with Redis locks across instances
  STORE_DRIVER=postgres PG_DSN=postgres://... REDIS_ADDR=redis:6379 ./server

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
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
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/deposit-engine/api"
	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/config"
	"github.com/warp/deposit-engine/fixeddeposit"
	"github.com/warp/deposit-engine/interest"
	"github.com/warp/deposit-engine/lock"
	"github.com/warp/deposit-engine/metrics"
	"github.com/warp/deposit-engine/store/postgres"
	"github.com/warp/deposit-engine/store/sqlite"
	"github.com/warp/deposit-engine/teller"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.AppAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("locker: %w", err)
	}
	defer closeLocker()

	partyTypes, err := cfg.PartyTypes()
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	interestEngine := interest.NewEngine(st, locker, interest.Config{
		AllowMidQuarterJoiners: cfg.InterestAllowMidQuarterJoiners,
	}, logger, m)
	fdEngine := fixeddeposit.NewEngine(st, locker, fixeddeposit.Config{
		EligiblePartyTypes: partyTypes,
	}, logger, m)

	handler := api.NewHandler(api.Deps{
		Store:    st,
		Interest: interestEngine,
		Deposits: fdEngine,
		Teller:   teller.NewService(st, locker, logger, m),
		Logger:   logger,
	})

	router := api.NewRouter(handler, api.RouterConfig{
		Production:         cfg.IsProduction(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		Metrics:            m,
		Logger:             logger,
	})

	scheduler := api.NewQuarterEndScheduler(st, interestEngine, logger)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Actor = cfg.SchedulerActor
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.Bool("redis_locks", cfg.RedisAddr != ""),
			slog.Bool("scheduler", cfg.SchedulerEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
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

// openStore returns the configured store and its closer.
func openStore(ctx context.Context, cfg *config.Config) (bank.TxStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	default:
		lite, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return lite, func() { _ = lite.Close() }, nil
	}
}

// newLocker uses Redis when configured so several instances share locks.
// REDIS_ADDR accepts host:port or a redis:// URL.
func newLocker(ctx context.Context, cfg *config.Config) (bank.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	opts := &redis.Options{Addr: cfg.RedisAddr}
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return lock.NewRedis(client, cfg.LockTTL), func() { _ = client.Close() }, nil
}
