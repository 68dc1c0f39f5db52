/*
service.go - Sale transaction coordinator, cash register and catalog API

PURPOSE:
  Service is the single entry point the presentation layer talks to.
  Every write runs inside TxStore.WithTx so that the catalog and the ledger
  change together or not at all.

RECORD SALE:
  1. Drop non-positive quantities; nothing left -> ErrEmptyBasket
  2. Lock every basket product (sorted by name)
  3. Validate existence and stock for each line, snapshot the unit price
  4. Debit stock, append the sale with the summed total
  Validation finishes before the first write, so step 4 can only fail for
  infrastructure reasons, and then the whole transaction rolls back.

DELETE SALE:
  Re-credits exactly the quantities the sale debited and removes the sale,
  in one transaction. Restoration is additive with no upper bound check.

CASH TOTAL:
  Summed from the ledger on every call. There is no separately mutated
  cash field that could drift from the recorded sales.

SEE ALSO:
  - store.go:     locking contract
  - reconcile.go: catalog import
*/
package pos

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Service coordinates catalog and ledger operations.
type Service struct {
	Store TxStore

	// Clock stamps new sales. Defaults to UTC wall time.
	Clock func() time.Time
}

// NewService creates a service over the given store.
func NewService(store TxStore) *Service {
	return &Service{
		Store: store,
		Clock: func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// AddProduct inserts a new product with a fresh identity.
func (s *Service) AddProduct(ctx context.Context, name string, unitPrice decimal.Decimal, stock int) (Product, error) {
	now := s.Clock()
	p := Product{
		ID:        NewProductID(),
		Name:      strings.TrimSpace(name),
		UnitPrice: unitPrice,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Validate(); err != nil {
		return Product{}, err
	}

	err := s.Store.WithTx(ctx, func(tx Store) error {
		return tx.AddProduct(ctx, p)
	})
	if err != nil {
		return Product{}, storageError("add product", err)
	}
	return p, nil
}

// RemoveProduct deletes a product no recorded sale references.
func (s *Service) RemoveProduct(ctx context.Context, name string) error {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		locked, err := tx.LockProducts(ctx, []string{name})
		if err != nil {
			return err
		}
		if _, ok := locked[name]; !ok {
			return &ProductNotFoundError{Name: name}
		}
		return tx.RemoveProduct(ctx, name)
	})
	return storageError("remove product", err)
}

// GetProduct returns one product by name.
func (s *Service) GetProduct(ctx context.Context, name string) (Product, error) {
	p, err := s.Store.GetProduct(ctx, name)
	return p, storageError("get product", err)
}

// ListProducts returns the catalog ordered by name.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.Store.ListProducts(ctx)
	return products, storageError("list products", err)
}

// =============================================================================
// SALES
// =============================================================================

// RecordSale validates the basket against current stock, debits it and
// appends a sale priced at the current catalog prices.
func (s *Service) RecordSale(ctx context.Context, basket Basket) (SaleResult, error) {
	lines := basket.Lines()
	if len(lines) == 0 {
		return SaleResult{}, ErrEmptyBasket
	}

	names := make([]string, len(lines))
	for i, l := range lines {
		names[i] = l.Name
	}

	var result SaleResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		products, err := tx.LockProducts(ctx, names)
		if err != nil {
			return err
		}

		// Validate everything before the first write.
		items := make([]LineItem, 0, len(lines))
		for _, l := range lines {
			p, ok := products[l.Name]
			if !ok {
				return &ProductNotFoundError{Name: l.Name}
			}
			if l.Quantity > p.Stock {
				return &InsufficientStockError{Product: l.Name, Available: p.Stock, Requested: l.Quantity}
			}
			items = append(items, LineItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				UnitPrice:   p.UnitPrice,
			})
		}

		for _, item := range items {
			if _, err := tx.AdjustStock(ctx, item.ProductName, -item.Quantity); err != nil {
				return err
			}
		}

		total := SumLineItems(items)
		id, err := tx.AppendSale(ctx, items, total, s.Clock())
		if err != nil {
			return err
		}
		result = SaleResult{SaleID: id, Total: total}
		return nil
	})
	if err != nil {
		return SaleResult{}, storageError("record sale", err)
	}
	return result, nil
}

// DeleteSale removes a sale and restores the stock it debited.
func (s *Service) DeleteSale(ctx context.Context, id SaleID) error {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}

		names := make([]string, len(sale.Items))
		for i, item := range sale.Items {
			names[i] = item.ProductName
		}
		if _, err := tx.LockProducts(ctx, names); err != nil {
			return err
		}

		for _, item := range sale.Items {
			if _, err := tx.AdjustStock(ctx, item.ProductName, item.Quantity); err != nil {
				return err
			}
		}
		return tx.RemoveSale(ctx, id)
	})
	return storageError("delete sale", err)
}

// GetSale returns one sale by ID.
func (s *Service) GetSale(ctx context.Context, id SaleID) (Sale, error) {
	sale, err := s.Store.GetSale(ctx, id)
	return sale, storageError("get sale", err)
}

// ListSales returns the ledger, most recent first.
func (s *Service) ListSales(ctx context.Context) ([]Sale, error) {
	sales, err := s.Store.ListSales(ctx)
	return sales, storageError("list sales", err)
}

// =============================================================================
// CASH REGISTER
// =============================================================================

// CashTotal is the sum of every recorded sale total.
func (s *Service) CashTotal(ctx context.Context) (decimal.Decimal, error) {
	sales, err := s.Store.ListSales(ctx)
	if err != nil {
		return decimal.Zero, storageError("cash total", err)
	}
	total := decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.Total)
	}
	return total, nil
}
