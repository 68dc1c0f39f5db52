/*
main.go - Application entry point

PURPOSE:
  Starts the charity-event register: catalog, sales ledger and cash total
  behind a small REST API.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the selected store (memory, sqlite or postgres)
  3. Optionally import the catalog CSV
  4. Configure HTTP router and catalog sync
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -backend          memory | sqlite | postgres (default: sqlite)
  -db               SQLite database path (default: caixa.db)
                    Use ":memory:" for in-memory database
  -database-url     Postgres connection string
  -catalog-url      Catalog CSV (URL or file path)
  -import-on-start  Import the catalog before serving
  -sync-interval    Re-import the catalog periodically (0 = off)
  -lock-timeout     Maximum wait for product locks (default: 5s)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the catalog sync
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/caixa.db"

  # Run against a hosted database, seeding from the shared sheet
  DATABASE_URL=postgres://... ./server -backend=postgres \
      -catalog-url="https://docs.google.com/.../export?format=csv" -import-on-start

SEE ALSO:
  - config/config.go: Settings and precedence
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EricCamachoDM/caixa-festa/api"
	"github.com/EricCamachoDM/caixa-festa/config"
	"github.com/EricCamachoDM/caixa-festa/pos"
	"github.com/EricCamachoDM/caixa-festa/pos/store"
	"github.com/EricCamachoDM/caixa-festa/store/postgres"
	"github.com/EricCamachoDM/caixa-festa/store/sqlite"
)

func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	st, closer, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Backend, err)
	}
	defer closer.Close()

	svc := pos.NewService(st)
	catalogSync := api.NewCatalogSyncScheduler(svc, cfg.CatalogURL, cfg.SyncInterval)

	if cfg.ImportOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		report, res, err := catalogSync.SyncOnce(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Catalog import failed: %v", err)
		}
		log.Printf("Catalog imported from %s: %d rows, %d dropped, %d inserted, %d updated, %d unchanged, %d skipped",
			cfg.CatalogURL, report.Rows, report.Dropped, res.Inserted, res.Updated, res.Unchanged, res.Skipped)
	}

	handler := api.NewHandler(svc, cfg.CatalogURL)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	catalogSync.Start()

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d (%s store)", cfg.Port, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	catalogSync.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg config.Config) (pos.TxStore, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("Using in-memory store; data is lost on exit")
		return store.NewMemory(), nopCloser{}, nil
	case config.BackendSQLite:
		s, err := sqlite.NewWithTimeout(cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, cfg.LockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
