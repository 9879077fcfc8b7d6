/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the HR approval workflow server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env files, environment, then flags)
  2. Build the zerolog logger
  3. Open the SQLite store (directory, and entities unless remote)
  4. Open the remote store when STORE_BACKEND=remote
  5. Build authz, certificate generator and workflow engine
  6. Configure HTTP router and certificate scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the certificate scheduler
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/workflow.db"

  # Run in memory with demo data
  SEED_DEMO=true ./server -db=":memory:"

  # Entities in an external service, directory local
  STORE_BACKEND=remote REMOTE_STORE_URL=http://records:9000 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/warp/hr-workflow/api"
	"github.com/warp/hr-workflow/authz"
	"github.com/warp/hr-workflow/config"
	"github.com/warp/hr-workflow/docgen"
	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/logging"
	"github.com/warp/hr-workflow/store/cache"
	"github.com/warp/hr-workflow/store/remote"
	"github.com/warp/hr-workflow/store/sqlite"

	_ "github.com/warp/hr-workflow/loans"
	_ "github.com/warp/hr-workflow/rewards"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Configuration, log zerolog.Logger) error {
	// Initialize store
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "initialize database")
	}
	defer db.Close()

	var (
		entities     generic.Store            = db
		certificates generic.CertificateStore = db
		audit        generic.AuditLog         = db
		resetters                             = []api.Resetter{db}
	)
	if cfg.StoreBackend == config.BackendRemote {
		client, err := remote.New(remote.Options{
			BaseURL:  cfg.RemoteStore.URL,
			RetryMax: cfg.RemoteStore.RetryMax,
			Timeout:  cfg.RemoteStore.Timeout,
			Logger:   log,
		})
		if err != nil {
			return err
		}
		entities, certificates, audit = client, client, client
		log.Info().Str("url", cfg.RemoteStore.URL).Msg("using remote entity store")
	}

	directory := cache.NewDirectory(db, cfg.DirectoryCacheTTL)

	permissions, err := authz.New(cfg.AuthzPolicyPath, log)
	if err != nil {
		return err
	}

	engine := generic.NewEngine(generic.EngineOptions{
		Store:           entities,
		Directory:       directory,
		Certificates:    certificates,
		Documents:       docgen.NewGenerator(directory, cfg.CompanyName),
		Audit:           audit,
		Permissions:     permissions,
		Logger:          log,
		DocumentTimeout: cfg.DocumentTimeout,
	})

	// Initialize handler
	handler := api.NewHandler(engine, db, log)
	handler.Resetters = resetters
	handler.OnDirectoryChange = directory.Invalidate

	if cfg.SeedDemo {
		if err := handler.LoadScenarioByID(context.Background(), "loan-pipeline"); err != nil {
			log.Warn().Err(err).Msg("failed to seed demo data")
		}
	}

	scheduler := api.NewCertificateScheduler(engine, log)
	scheduler.CheckInterval = cfg.RegenerationInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.CORSOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("backend", cfg.StoreBackend).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return err
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
