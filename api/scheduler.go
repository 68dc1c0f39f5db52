/*
scheduler.go - Catalog sync scheduler

PURPOSE:
  Re-imports the catalog CSV on a fixed interval so price and stock edits
  made in the shared spreadsheet reach the register without a manual
  import. Reconciliation is idempotent, so an unchanged sheet is a no-op.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Never deletes products (reconcile only inserts and updates)
  - A failed sync is logged and retried on the next tick
  - SyncOnce is also what the server uses for the boot-time import

CONFIGURATION:
  - Interval: How often to sync (0 disables the ticker)
  - Source:   CSV URL or file path

USAGE:
  scheduler := NewCatalogSyncScheduler(svc, cfg.CatalogURL, time.Minute)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ImportCatalog endpoint (manual import)
  - pos/reconcile.go: ReconcileCatalog
*/
package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/EricCamachoDM/caixa-festa/importer"
	"github.com/EricCamachoDM/caixa-festa/pos"
)

// CatalogSyncScheduler periodically reconciles the catalog with Source.
type CatalogSyncScheduler struct {
	Service  *pos.Service
	Source   string
	Client   *http.Client
	Interval time.Duration
	Timeout  time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCatalogSyncScheduler creates a new scheduler.
func NewCatalogSyncScheduler(svc *pos.Service, source string, interval time.Duration) *CatalogSyncScheduler {
	return &CatalogSyncScheduler{
		Service:  svc,
		Source:   source,
		Client:   http.DefaultClient,
		Interval: interval,
		Timeout:  30 * time.Second,
	}
}

// Start begins the scheduler.
func (cs *CatalogSyncScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.Interval <= 0 || cs.Source == "" {
		log.Println("[CatalogSync] Disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.Interval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	log.Printf("[CatalogSync] Started with interval: %v", cs.Interval)
}

// Stop stops the scheduler and waits for an in-flight sync.
func (cs *CatalogSyncScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		log.Println("[CatalogSync] Stopped")
	}
}

func (cs *CatalogSyncScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), cs.Timeout)
			if _, _, err := cs.SyncOnce(ctx); err != nil {
				log.Printf("[CatalogSync] Sync failed: %v", err)
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// SyncOnce fetches Source and reconciles the catalog with it.
func (cs *CatalogSyncScheduler) SyncOnce(ctx context.Context) (importer.Report, pos.ReconcileResult, error) {
	rows, report, err := importer.Load(ctx, cs.Client, cs.Source)
	if err != nil {
		return report, pos.ReconcileResult{}, err
	}

	res, err := cs.Service.ReconcileCatalog(ctx, rows)
	if err != nil {
		return report, res, err
	}

	if report.Dropped > 0 || res.Inserted > 0 || res.Updated > 0 || res.Skipped > 0 {
		log.Printf("[CatalogSync] %s: %d rows, %d dropped, %d inserted, %d updated, %d unchanged, %d skipped",
			cs.Source, report.Rows, report.Dropped, res.Inserted, res.Updated, res.Unchanged, res.Skipped)
	}
	return report, res, nil
}
