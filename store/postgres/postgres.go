// Package postgres implements pos.TxStore on PostgreSQL through the pgx
// database/sql driver.
//
// Unlike the SQLite backend there is no process-wide mutex: RecordSale and
// friends take row locks with SELECT ... FOR UPDATE, always in name order,
// so concurrent servers sharing one database serialize per product.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// SQLSTATE codes mapped onto pos errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store is a PostgreSQL-backed pos.TxStore.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ pos.TxStore = (*Store)(nil)

// New connects, pings and migrates. lockTimeout bounds every row-lock wait
// inside WithTx; zero waits forever.
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %w", pos.ErrStorage, err)
	}

	s := &Store{db: db, lockTimeout: lockTimeout}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0),
			stock INTEGER NOT NULL CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sales (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			total NUMERIC(12,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales (created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS sale_line_items (
			sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
			product_name TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price NUMERIC(12,2) NOT NULL,
			PRIMARY KEY (sale_id, product_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sale_line_items_product ON sale_line_items (product_id);
	`)
	return err
}

// Reset truncates every table and restarts the sale sequence.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE sale_line_items, sales, products RESTART IDENTITY CASCADE`)
	return err
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks from
// LockProducts are held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.lockTimeout > 0 {
		_, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
		if err != nil {
			return mapError(err)
		}
	}

	if err := fn(&conn{q: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// Outside WithTx each call runs on its own pooled connection.

func (s *Store) AddProduct(ctx context.Context, p pos.Product) error {
	return s.direct().AddProduct(ctx, p)
}

func (s *Store) RemoveProduct(ctx context.Context, name string) error {
	return s.direct().RemoveProduct(ctx, name)
}

func (s *Store) GetProduct(ctx context.Context, name string) (pos.Product, error) {
	return s.direct().GetProduct(ctx, name)
}

func (s *Store) ListProducts(ctx context.Context) ([]pos.Product, error) {
	return s.direct().ListProducts(ctx)
}

func (s *Store) UpdateProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	return s.direct().UpdateProduct(ctx, name, unitPrice, stock)
}

func (s *Store) AdjustStock(ctx context.Context, name string, delta int) (int, error) {
	return s.direct().AdjustStock(ctx, name, delta)
}

func (s *Store) LockProducts(ctx context.Context, names []string) (map[string]pos.Product, error) {
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
	return s.direct().GetSale(ctx, id)
}

func (s *Store) RemoveSale(ctx context.Context, id pos.SaleID) error {
	return s.direct().RemoveSale(ctx, id)
}

func (s *Store) ListSales(ctx context.Context) ([]pos.Sale, error) {
	return s.direct().ListSales(ctx)
}

func (s *Store) direct() *conn { return &conn{q: s.db} }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

const productColumns = `id, name, unit_price, stock, created_at, updated_at`

func (c *conn) AddProduct(ctx context.Context, p pos.Product) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.Name, p.UnitPrice, p.Stock, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return &pos.DuplicateNameError{Name: p.Name}
		}
		return mapError(err)
	}
	return nil
}

func (c *conn) RemoveProduct(ctx context.Context, name string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM products WHERE name = $1`, name)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return &pos.ReferencedByLedgerError{Name: name}
		}
		return mapError(err)
	}
	return requireRow(res, &pos.ProductNotFoundError{Name: name})
}

func (c *conn) GetProduct(ctx context.Context, name string) (pos.Product, error) {
	var p pos.Product
	err := c.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pos.Product{}, &pos.ProductNotFoundError{Name: name}
		}
		return pos.Product{}, mapError(err)
	}
	return normalizeProduct(p), nil
}

func (c *conn) ListProducts(ctx context.Context) ([]pos.Product, error) {
	return c.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
}

func (c *conn) UpdateProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE products SET unit_price = $2, stock = $3, updated_at = now()
		WHERE name = $1
	`, name, unitPrice, stock)
	if err != nil {
		if hasCode(err, codeCheckViolation) {
			return &pos.InvalidProductError{Name: name, Reason: "price and stock must not be negative"}
		}
		return mapError(err)
	}
	return requireRow(res, &pos.ProductNotFoundError{Name: name})
}

func (c *conn) AdjustStock(ctx context.Context, name string, delta int) (int, error) {
	var stock int
	err := c.q.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE name = $1 AND stock + $2 >= 0
		RETURNING stock
	`, name, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapError(err)
	}

	err = c.q.QueryRowContext(ctx, `SELECT stock FROM products WHERE name = $1`, name).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &pos.ProductNotFoundError{Name: name}
	}
	if err != nil {
		return 0, mapError(err)
	}
	return stock, &pos.InsufficientStockError{Product: name, Available: stock, Requested: -delta}
}

// LockProducts takes FOR UPDATE row locks in name order, which keeps two
// overlapping baskets from deadlocking each other.
func (c *conn) LockProducts(ctx context.Context, names []string) (map[string]pos.Product, error) {
	result := make(map[string]pos.Product, len(names))
	if len(names) == 0 {
		return result, nil
	}

	products, err := c.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE name = ANY($1)
		ORDER BY name
		FOR UPDATE
	`, names)
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
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]pos.Product, 0, 32)
	for rows.Next() {
		var p pos.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		products = append(products, normalizeProduct(p))
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (c *conn) AppendSale(ctx context.Context, items []pos.LineItem, total decimal.Decimal, at time.Time) (pos.SaleID, error) {
	var id int64
	err := c.q.QueryRowContext(ctx, `
		INSERT INTO sales (total, created_at) VALUES ($1,$2) RETURNING id
	`, total, at.UTC()).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}

	for _, item := range items {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO sale_line_items (sale_id, product_id, product_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, id, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
		if err != nil {
			if hasCode(err, codeForeignKeyViolation) {
				return 0, &pos.ProductNotFoundError{Name: item.ProductName}
			}
			return 0, mapError(err)
		}
	}
	return pos.SaleID(id), nil
}

func (c *conn) GetSale(ctx context.Context, id pos.SaleID) (pos.Sale, error) {
	sales, err := c.querySales(ctx, `WHERE id = $1`, int64(id))
	if err != nil {
		return pos.Sale{}, err
	}
	if len(sales) == 0 {
		return pos.Sale{}, &pos.SaleNotFoundError{ID: id}
	}
	return sales[0], nil
}

func (c *conn) RemoveSale(ctx context.Context, id pos.SaleID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, int64(id))
	if err != nil {
		return mapError(err)
	}
	return requireRow(res, &pos.SaleNotFoundError{ID: id})
}

func (c *conn) ListSales(ctx context.Context) ([]pos.Sale, error) {
	return c.querySales(ctx, "")
}

func (c *conn) querySales(ctx context.Context, where string, args ...any) ([]pos.Sale, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, total, created_at FROM sales `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, mapError(err)
	}

	sales := make([]pos.Sale, 0, 64)
	index := make(map[int64]int)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		var (
			sale pos.Sale
			id   int64
		)
		if err := rows.Scan(&id, &sale.Total, &sale.Timestamp); err != nil {
			_ = rows.Close()
			return nil, mapError(err)
		}
		sale.ID = pos.SaleID(id)
		sale.Timestamp = sale.Timestamp.UTC()
		index[id] = len(sales)
		ids = append(ids, id)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := c.q.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, quantity, unit_price
		FROM sale_line_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, product_name
	`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			saleID int64
			item   pos.LineItem
		)
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, mapError(err)
		}
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sales, nil
}

func normalizeProduct(p pos.Product) pos.Product {
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p
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

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// mapError tags lock waits and serialization aborts as retryable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", pos.ErrLockTimeout, err)
		}
	}
	return err
}
