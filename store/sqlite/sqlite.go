/*
Package sqlite provides a SQLite-backed implementation of pos.TxStore.

PURPOSE:
  The embedded file database backend: one file next to the binary, no
  server. The same schema shape is used by store/postgres.

KEY TABLES:
  products:        catalog rows, name UNIQUE, stock CHECK (stock >= 0)
  sales:           ledger headers, AUTOINCREMENT id (never reused)
  sale_line_items: sale_id -> sales ON DELETE CASCADE,
                   product_id -> products ON DELETE RESTRICT

CONCURRENCY:
  One pooled connection, a sync.RWMutex around every operation, and
  BEGIN IMMEDIATE transactions (_txlock=immediate). Writers in this process
  are serialized by the mutex; writers in other processes wait on the
  database lock up to the busy timeout and then fail with pos.ErrLockTimeout.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./caixa.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := pos.NewService(store)

SEE ALSO:
  - pos/store.go: Interface definitions
  - pos/store/memory.go: In-memory implementation
  - store/postgres/postgres.go: Hosted implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// DefaultBusyTimeout bounds how long a write waits for the database lock.
const DefaultBusyTimeout = 5 * time.Second

// timeLayout is fixed width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements pos.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ pos.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return NewWithTimeout(dbPath, DefaultBusyTimeout)
}

// NewWithTimeout is New with an explicit lock wait.
func NewWithTimeout(dbPath string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and makes the
	// mutex the only queue in this process.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		unit_price TEXT NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- AUTOINCREMENT: ids of deleted sales are never handed out again
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		total TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS sale_line_items (
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		PRIMARY KEY (sale_id, product_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sale_line_items_product
		ON sale_line_items(product_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"sale_line_items", "sales", "products"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (pos.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) AddProduct(ctx context.Context, p pos.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AddProduct(ctx, p)
}

func (s *Store) RemoveProduct(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().RemoveProduct(ctx, name)
}

func (s *Store) GetProduct(ctx context.Context, name string) (pos.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetProduct(ctx, name)
}

func (s *Store) ListProducts(ctx context.Context) ([]pos.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListProducts(ctx)
}

func (s *Store) UpdateProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateProduct(ctx, name, unitPrice, stock)
}

func (s *Store) AdjustStock(ctx context.Context, name string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AdjustStock(ctx, name, delta)
}

func (s *Store) LockProducts(ctx context.Context, names []string) (map[string]pos.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().LockProducts(ctx, names)
}

func (s *Store) AppendSale(ctx context.Context, items []pos.LineItem, total decimal.Decimal, at time.Time) (pos.SaleID, error) {
	var id pos.SaleID
	err := s.WithTx(ctx, func(tx pos.Store) error {
		var err error
		id, err = tx.AppendSale(ctx, items, total, at)
		return err
	})
	return id, err
}

func (s *Store) GetSale(ctx context.Context, id pos.SaleID) (pos.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetSale(ctx, id)
}

func (s *Store) RemoveSale(ctx context.Context, id pos.SaleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().RemoveSale(ctx, id)
}

func (s *Store) ListSales(ctx context.Context) ([]pos.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListSales(ctx)
}

func (s *Store) direct() *conn { return &conn{q: s.db} }

// =============================================================================
// QUERIES (shared by *sql.DB and *sql.Tx)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements pos.Store over one querier.
type conn struct {
	q querier
}

const productColumns = `id, name, unit_price, stock, created_at, updated_at`

func (c *conn) AddProduct(ctx context.Context, p pos.Product) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		p.ID.String(),
		p.Name,
		p.UnitPrice.String(),
		p.Stock,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return &pos.DuplicateNameError{Name: p.Name}
	}
	if err != nil {
		return mapError(fmt.Errorf("failed to insert product: %w", err))
	}
	return nil
}

func (c *conn) RemoveProduct(ctx context.Context, name string) error {
	var id string
	err := c.q.QueryRowContext(ctx, "SELECT id FROM products WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return &pos.ProductNotFoundError{Name: name}
	}
	if err != nil {
		return mapError(err)
	}

	var refs int
	err = c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sale_line_items WHERE product_id = ?", id,
	).Scan(&refs)
	if err != nil {
		return mapError(err)
	}
	if refs > 0 {
		return &pos.ReferencedByLedgerError{Name: name}
	}

	_, err = c.q.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return &pos.ReferencedByLedgerError{Name: name}
	}
	if err != nil {
		return mapError(fmt.Errorf("failed to delete product: %w", err))
	}
	return nil
}

func (c *conn) GetProduct(ctx context.Context, name string) (pos.Product, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE name = ?", name)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pos.Product{}, &pos.ProductNotFoundError{Name: name}
	}
	return p, err
}

func (c *conn) ListProducts(ctx context.Context) ([]pos.Product, error) {
	return c.queryProducts(ctx, "SELECT "+productColumns+" FROM products ORDER BY name")
}

func (c *conn) UpdateProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE products SET unit_price = ?, stock = ?, updated_at = ?
		WHERE name = ?
	`, unitPrice.String(), stock, formatTime(time.Now()), name)
	if isConstraint(err, sqlite3.ErrConstraintCheck) {
		return &pos.InvalidProductError{Name: name, Reason: "stock must not be negative"}
	}
	if err != nil {
		return mapError(fmt.Errorf("failed to update product: %w", err))
	}
	return requireRow(res, &pos.ProductNotFoundError{Name: name})
}

func (c *conn) AdjustStock(ctx context.Context, name string, delta int) (int, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE products SET stock = stock + ?, updated_at = ?
		WHERE name = ? AND stock + ? >= 0
	`, delta, formatTime(time.Now()), name, delta)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to adjust stock: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}

	var stock int
	err = c.q.QueryRowContext(ctx, "SELECT stock FROM products WHERE name = ?", name).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &pos.ProductNotFoundError{Name: name}
	}
	if err != nil {
		return 0, mapError(err)
	}
	if affected == 0 {
		return stock, &pos.InsufficientStockError{Product: name, Available: stock, Requested: -delta}
	}
	return stock, nil
}

// LockProducts reads the rows; the exclusive lock is the immediate
// transaction plus the store mutex.
func (c *conn) LockProducts(ctx context.Context, names []string) (map[string]pos.Product, error) {
	result := make(map[string]pos.Product, len(names))
	if len(names) == 0 {
		return result, nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	query := "SELECT " + productColumns + " FROM products WHERE name IN (" + placeholders(len(names)) + ")"

	products, err := c.queryProducts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.Name] = p
	}
	return result, nil
}

func (c *conn) queryProducts(ctx context.Context, query string, args ...any) ([]pos.Product, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query products: %w", err))
	}
	defer rows.Close()

	var products []pos.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, mapError(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (pos.Product, error) {
	var (
		p         pos.Product
		id        string
		unitPrice string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&id, &p.Name, &unitPrice, &p.Stock, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, mapError(fmt.Errorf("failed to scan product: %w", err))
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return p, fmt.Errorf("product %q has malformed id: %w", p.Name, err)
	}
	if p.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return p, fmt.Errorf("product %q has malformed price: %w", p.Name, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (c *conn) AppendSale(ctx context.Context, items []pos.LineItem, total decimal.Decimal, at time.Time) (pos.SaleID, error) {
	res, err := c.q.ExecContext(ctx,
		"INSERT INTO sales (total, created_at) VALUES (?, ?)",
		total.String(), formatTime(at),
	)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to append sale: %w", err))
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}
	id := pos.SaleID(lastID)

	for _, item := range items {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO sale_line_items (sale_id, product_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, int64(id), item.ProductID.String(), item.ProductName, item.Quantity, item.UnitPrice.String())
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return 0, &pos.ProductNotFoundError{Name: item.ProductName}
		}
		if err != nil {
			return 0, mapError(fmt.Errorf("failed to append line item: %w", err))
		}
	}
	return id, nil
}

func (c *conn) GetSale(ctx context.Context, id pos.SaleID) (pos.Sale, error) {
	sales, err := c.querySales(ctx, "WHERE id = ?", int64(id))
	if err != nil {
		return pos.Sale{}, err
	}
	if len(sales) == 0 {
		return pos.Sale{}, &pos.SaleNotFoundError{ID: id}
	}
	return sales[0], nil
}

func (c *conn) RemoveSale(ctx context.Context, id pos.SaleID) error {
	// Line items go with the sale through ON DELETE CASCADE.
	res, err := c.q.ExecContext(ctx, "DELETE FROM sales WHERE id = ?", int64(id))
	if err != nil {
		return mapError(fmt.Errorf("failed to remove sale: %w", err))
	}
	return requireRow(res, &pos.SaleNotFoundError{ID: id})
}

func (c *conn) ListSales(ctx context.Context) ([]pos.Sale, error) {
	return c.querySales(ctx, "")
}

// querySales loads headers, then their line items, and keeps the
// most-recent-first order.
func (c *conn) querySales(ctx context.Context, where string, args ...any) ([]pos.Sale, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT id, total, created_at FROM sales "+where+" ORDER BY created_at DESC, id DESC",
		args...,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query sales: %w", err))
	}

	var (
		sales []pos.Sale
		index = make(map[pos.SaleID]int)
	)
	for rows.Next() {
		var (
			sale      pos.Sale
			id        int64
			total     string
			createdAt string
		)
		if err := rows.Scan(&id, &total, &createdAt); err != nil {
			rows.Close()
			return nil, mapError(fmt.Errorf("failed to scan sale: %w", err))
		}
		sale.ID = pos.SaleID(id)
		sale.Total = mustDecimal(total)
		sale.Timestamp = parseTime(createdAt)
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}

	itemQuery := "SELECT sale_id, product_id, product_name, quantity, unit_price FROM sale_line_items"
	var itemArgs []any
	if where != "" {
		itemQuery += " WHERE sale_id = ?"
		itemArgs = append(itemArgs, int64(sales[0].ID))
	}
	itemQuery += " ORDER BY sale_id, product_name"

	itemRows, err := c.q.QueryContext(ctx, itemQuery, itemArgs...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query line items: %w", err))
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			saleID    int64
			productID string
			unitPrice string
			item      pos.LineItem
		)
		if err := itemRows.Scan(&saleID, &productID, &item.ProductName, &item.Quantity, &unitPrice); err != nil {
			return nil, mapError(fmt.Errorf("failed to scan line item: %w", err))
		}
		item.ProductID, _ = uuid.Parse(productID)
		item.UnitPrice = mustDecimal(unitPrice)
		if i, ok := index[pos.SaleID(saleID)]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	return sales, mapError(itemRows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func requireRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// mapError tags lock contention as pos.ErrLockTimeout.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", pos.ErrLockTimeout, err)
	}
	return err
}
