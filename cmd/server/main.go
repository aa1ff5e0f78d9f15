/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recurring deposit engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, DEPOSIT_* env, flags)
  2. Configure logging
  3. Open the store (SQLite or PostgreSQL) and seed products
  4. Build the product catalog (Redis or in-process cache)
  5. Create the deposit service, HTTP router and job scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port, overrides server.port
  -db      Database DSN, overrides database.dsn
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the job scheduler (waits for a running batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database and cache connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/deposits.db"

  # Run against PostgreSQL with a shared Redis cache
  DEPOSIT_DATABASE_DRIVER=postgres \
  DEPOSIT_DATABASE_DSN="postgres://deposit@localhost/deposit?sslmode=disable" \
  DEPOSIT_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: configuration keys and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: cron jobs
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/api"
	"github.com/warp/deposit-engine/cache"
	"github.com/warp/deposit-engine/config"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	log := newLogger(cfg.Log)

	// Initialize store
	store, err := sqlstore.Open(sqlstore.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if cfg.Catalog.ProductsFile != "" {
		if err := seedProducts(context.Background(), store, cfg.Catalog.ProductsFile, log); err != nil {
			log.Fatalf("Failed to load products: %v", err)
		}
	}

	// Product catalog: database first, then built-in presets
	productCache, closeCache := newCache(cfg.Redis, log)
	defer closeCache()
	catalog := factory.NewCatalog(productCache, cfg.Catalog.CacheTTL, log, store, factory.Presets())

	svc := deposit.NewService(store, catalog, deposit.WithLogger(log))
	handler := api.NewHandler(svc, catalog, log)

	var scheduler *api.JobScheduler
	if cfg.Jobs.Enabled {
		scheduler = api.NewJobScheduler(svc, cfg.Jobs.TrackSchedule, cfg.Jobs.ApplyPenalties, log)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		handler.Scheduler = scheduler
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Server.Port,
			"driver": cfg.Database.Driver,
			"jobs":   cfg.Jobs.Enabled,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// newCache returns Redis when an address is configured, else an in-process cache.
func newCache(cfg config.RedisConfig, log logrus.FieldLogger) (cache.Cache, func()) {
	if cfg.Addr == "" {
		return cache.NewMemory(), func() {}
	}
	r := cache.NewRedis(cfg.Addr, cfg.Password, cfg.DB, cfg.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unreachable, product lookups will bypass the cache until it recovers")
	}
	return r, func() { r.Close() }
}

// seedProducts validates every product in the file and stores it so the
// database stays the source of truth.
func seedProducts(ctx context.Context, store *sqlstore.Store, path string, log logrus.FieldLogger) error {
	products, err := factory.LoadFile(path)
	if err != nil {
		return err
	}
	f := factory.NewProductFactory()
	for id, raw := range products {
		p, err := f.ParseProduct(string(raw))
		if err != nil {
			return fmt.Errorf("product %s: %w", id, err)
		}
		if err := store.SaveProduct(ctx, id, p.Name, raw); err != nil {
			return fmt.Errorf("product %s: %w", id, err)
		}
	}
	log.WithField("products", len(products)).Info("products loaded")
	return nil
}
