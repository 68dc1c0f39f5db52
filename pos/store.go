/*
store.go - Persistence interfaces for the catalog and the sale ledger

PURPOSE:
  Defines the boundary between the sale protocol and the storage backends.
  Different implementations use process memory, SQLite or PostgreSQL.

KEY INTERFACES:
  Catalog:  product rows (add, remove, get, list, stock adjustment, locking)
  Ledger:   sale records (append, get, remove, list)
  Store:    Catalog + Ledger
  TxStore:  Store + WithTx for all-or-nothing units of work

LOCKING CONTRACT:
  Inside WithTx, LockProducts holds an exclusive lock on the named product
  rows until the transaction ends. Two transactions locking the same product
  are serialized; the second one sees the first one's committed stock.
  The memory and SQLite backends serialize whole transactions; PostgreSQL
  uses SELECT ... FOR UPDATE.

LEDGER CASCADE:
  Ledger.RemoveSale deletes the sale and its line items only. Restoring
  stock is the caller's job, inside the same WithTx.

IMPLEMENTATIONS:
  - pos/store/memory.go:       in-memory, for tests and single-session use
  - store/sqlite/sqlite.go:    embedded file database
  - store/postgres/postgres.go: hosted relational database

SEE ALSO:
  - service.go: the only writer
  - storetest/storetest.go: contract suite every backend runs
*/
package pos

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG STORE
// =============================================================================

// Catalog persists products keyed by unique name.
type Catalog interface {
	// AddProduct inserts p. Returns DuplicateNameError if the name exists.
	AddProduct(ctx context.Context, p Product) error

	// RemoveProduct deletes by name. Returns ProductNotFoundError or
	// ReferencedByLedgerError.
	RemoveProduct(ctx context.Context, name string) error

	// GetProduct returns a snapshot or ProductNotFoundError.
	GetProduct(ctx context.Context, name string) (Product, error)

	// ListProducts returns every product ordered by name ascending.
	ListProducts(ctx context.Context) ([]Product, error)

	// UpdateProduct overwrites price and stock of an existing product.
	UpdateProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) error

	// AdjustStock applies delta and returns the new stock. Returns
	// InsufficientStockError if the result would be negative.
	AdjustStock(ctx context.Context, name string, delta int) (int, error)

	// LockProducts locks the named rows for the rest of the transaction and
	// returns the ones that exist. Missing names are absent from the map.
	LockProducts(ctx context.Context, names []string) (map[string]Product, error)
}

// =============================================================================
// SALE LEDGER
// =============================================================================

// Ledger persists sales.
type Ledger interface {
	// AppendSale stores a sale and returns its freshly assigned ID.
	AppendSale(ctx context.Context, items []LineItem, total decimal.Decimal, at time.Time) (SaleID, error)

	// GetSale returns a snapshot or SaleNotFoundError.
	GetSale(ctx context.Context, id SaleID) (Sale, error)

	// RemoveSale deletes a sale and its line items. No stock side effects.
	RemoveSale(ctx context.Context, id SaleID) error

	// ListSales returns every sale, most recent first.
	ListSales(ctx context.Context) ([]Sale, error)
}

// Store is the combined catalog and ledger.
type Store interface {
	Catalog
	Ledger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the writes are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
