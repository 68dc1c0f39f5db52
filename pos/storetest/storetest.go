/*
Package storetest holds the contract every pos.TxStore backend must satisfy.

USAGE:
  func TestMemoryStore(t *testing.T) {
      storetest.Run(t, func(t *testing.T) pos.TxStore { return store.NewMemory() })
  }

Run covers the raw Catalog/Ledger contract. RunService drives the same
backend through pos.Service, including concurrent sales against one product.
*/
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) pos.TxStore

var errAbort = errors.New("abort")

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(name, unitPrice string, stock int) pos.Product {
	now := time.Date(2025, time.June, 21, 18, 0, 0, 0, time.UTC)
	return pos.Product{
		ID:        pos.NewProductID(),
		Name:      name,
		UnitPrice: price(unitPrice),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func lineItem(p pos.Product, qty int) pos.LineItem {
	return pos.LineItem{ProductID: p.ID, ProductName: p.Name, Quantity: qty, UnitPrice: p.UnitPrice}
}

// Run executes the storage contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AddGetList", func(t *testing.T) { testAddGetList(t, newStore(t)) })
	t.Run("DuplicateName", func(t *testing.T) { testDuplicateName(t, newStore(t)) })
	t.Run("AdjustStock", func(t *testing.T) { testAdjustStock(t, newStore(t)) })
	t.Run("UpdateProduct", func(t *testing.T) { testUpdateProduct(t, newStore(t)) })
	t.Run("LockProducts", func(t *testing.T) { testLockProducts(t, newStore(t)) })
	t.Run("SaleLifecycle", func(t *testing.T) { testSaleLifecycle(t, newStore(t)) })
	t.Run("SaleIDsNeverReused", func(t *testing.T) { testSaleIDsNeverReused(t, newStore(t)) })
	t.Run("ListSalesNewestFirst", func(t *testing.T) { testListSalesNewestFirst(t, newStore(t)) })
	t.Run("RemoveReferencedProduct", func(t *testing.T) { testRemoveReferencedProduct(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("WithTxCommit", func(t *testing.T) { testWithTxCommit(t, newStore(t)) })
}

func testAddGetList(t *testing.T, s pos.TxStore) {
	ctx := context.Background()

	require.NoError(t, s.AddProduct(ctx, product("Soda", "6.00", 10)))
	require.NoError(t, s.AddProduct(ctx, product("Cake", "4.50", 3)))
	require.NoError(t, s.AddProduct(ctx, product("Beer", "8.25", 0)))

	got, err := s.GetProduct(ctx, "Cake")
	require.NoError(t, err)
	assert.Equal(t, "Cake", got.Name)
	assert.True(t, price("4.50").Equal(got.UnitPrice), "price round trip: %s", got.UnitPrice)
	assert.Equal(t, 3, got.Stock)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, []string{"Beer", "Cake", "Soda"}, names(products))

	_, err = s.GetProduct(ctx, "soda")
	var notFound *pos.ProductNotFoundError
	require.ErrorAs(t, err, &notFound, "names are case-sensitive")
	assert.Equal(t, "soda", notFound.Name)
}

func testDuplicateName(t *testing.T, s pos.TxStore) {
	ctx := context.Background()

	require.NoError(t, s.AddProduct(ctx, product("Soda", "6.00", 10)))
	err := s.AddProduct(ctx, product("Soda", "7.00", 1))

	var dup *pos.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Soda", dup.Name)

	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.True(t, price("6.00").Equal(got.UnitPrice), "original row untouched")
}

func testAdjustStock(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, product("Soda", "6.00", 10)))

	stock, err := s.AdjustStock(ctx, "Soda", -4)
	require.NoError(t, err)
	assert.Equal(t, 6, stock)

	stock, err = s.AdjustStock(ctx, "Soda", 2)
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	_, err = s.AdjustStock(ctx, "Soda", -9)
	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 8, stockErr.Available)
	assert.Equal(t, 9, stockErr.Requested)

	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.Equal(t, 8, got.Stock, "failed adjustment leaves stock alone")

	_, err = s.AdjustStock(ctx, "Ghost", 1)
	assert.ErrorIs(t, err, pos.ErrProductNotFound)
}

func testUpdateProduct(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, product("Soda", "6.00", 10)))

	require.NoError(t, s.UpdateProduct(ctx, "Soda", price("7.50"), 25))

	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.True(t, price("7.50").Equal(got.UnitPrice))
	assert.Equal(t, 25, got.Stock)

	err = s.UpdateProduct(ctx, "Ghost", price("1"), 1)
	assert.ErrorIs(t, err, pos.ErrProductNotFound)
}

func testLockProducts(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, product("Soda", "6.00", 10)))
	require.NoError(t, s.AddProduct(ctx, product("Cake", "4.50", 3)))

	var locked map[string]pos.Product
	err := s.WithTx(ctx, func(tx pos.Store) error {
		var err error
		locked, err = tx.LockProducts(ctx, []string{"Soda", "Ghost", "Cake"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, locked, 2)
	assert.Equal(t, 10, locked["Soda"].Stock)
	assert.Equal(t, 3, locked["Cake"].Stock)
	_, ok := locked["Ghost"]
	assert.False(t, ok)
}

func testSaleLifecycle(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 10)
	cake := product("Cake", "4.50", 3)
	require.NoError(t, s.AddProduct(ctx, soda))
	require.NoError(t, s.AddProduct(ctx, cake))

	items := []pos.LineItem{lineItem(soda, 3), lineItem(cake, 2)}
	at := time.Date(2025, time.June, 21, 19, 30, 0, 0, time.UTC)
	id, err := s.AppendSale(ctx, items, pos.SumLineItems(items), at)
	require.NoError(t, err)
	assert.Greater(t, int64(id), int64(0))

	sale, err := s.GetSale(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sale.ID)
	assert.True(t, at.Equal(sale.Timestamp), "timestamp round trip: %s", sale.Timestamp)
	assert.True(t, price("27.00").Equal(sale.Total), "total: %s", sale.Total)
	assert.True(t, sale.Total.Equal(sale.RecomputeTotal()))
	require.Len(t, sale.Items, 2)
	byName := map[string]pos.LineItem{}
	for _, item := range sale.Items {
		byName[item.ProductName] = item
	}
	assert.Equal(t, soda.ID, byName["Soda"].ProductID)
	assert.Equal(t, 3, byName["Soda"].Quantity)
	assert.True(t, price("4.50").Equal(byName["Cake"].UnitPrice))

	require.NoError(t, s.RemoveSale(ctx, id))

	_, err = s.GetSale(ctx, id)
	var notFound *pos.SaleNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.ID)

	err = s.RemoveSale(ctx, id)
	assert.ErrorIs(t, err, pos.ErrSaleNotFound)

	// Ledger removal performs no catalog side effects.
	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)
}

func testSaleIDsNeverReused(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 100)
	require.NoError(t, s.AddProduct(ctx, soda))
	items := []pos.LineItem{lineItem(soda, 1)}
	at := time.Date(2025, time.June, 21, 19, 0, 0, 0, time.UTC)

	first, err := s.AppendSale(ctx, items, pos.SumLineItems(items), at)
	require.NoError(t, err)
	second, err := s.AppendSale(ctx, items, pos.SumLineItems(items), at)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, s.RemoveSale(ctx, second))

	third, err := s.AppendSale(ctx, items, pos.SumLineItems(items), at)
	require.NoError(t, err)
	assert.Greater(t, third, second, "removed id must not be handed out again")
}

func testListSalesNewestFirst(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 100)
	require.NoError(t, s.AddProduct(ctx, soda))

	base := time.Date(2025, time.June, 21, 19, 0, 0, 0, time.UTC)
	var ids []pos.SaleID
	for i, offset := range []time.Duration{time.Minute, 3 * time.Minute, 2 * time.Minute} {
		items := []pos.LineItem{lineItem(soda, i+1)}
		id, err := s.AppendSale(ctx, items, pos.SumLineItems(items), base.Add(offset))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, []pos.SaleID{ids[1], ids[2], ids[0]}, []pos.SaleID{sales[0].ID, sales[1].ID, sales[2].ID})
	for _, sale := range sales {
		assert.True(t, sale.Total.Equal(sale.RecomputeTotal()))
		assert.Len(t, sale.Items, 1)
	}

}

func testRemoveReferencedProduct(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 10)
	require.NoError(t, s.AddProduct(ctx, soda))
	require.NoError(t, s.AddProduct(ctx, product("Cake", "4.50", 3)))

	items := []pos.LineItem{lineItem(soda, 1)}
	id, err := s.AppendSale(ctx, items, pos.SumLineItems(items), time.Date(2025, time.June, 21, 19, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	err = s.RemoveProduct(ctx, "Soda")
	var refErr *pos.ReferencedByLedgerError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "Soda", refErr.Name)
	_, err = s.GetProduct(ctx, "Soda")
	require.NoError(t, err, "catalog unchanged")

	require.NoError(t, s.RemoveProduct(ctx, "Cake"))
	assert.ErrorIs(t, s.RemoveProduct(ctx, "Cake"), pos.ErrProductNotFound)

	require.NoError(t, s.RemoveSale(ctx, id))
	require.NoError(t, s.RemoveProduct(ctx, "Soda"), "no sale references it anymore")
}

func testWithTxRollback(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 10)
	require.NoError(t, s.AddProduct(ctx, soda))

	err := s.WithTx(ctx, func(tx pos.Store) error {
		if _, err := tx.AdjustStock(ctx, "Soda", -3); err != nil {
			return err
		}
		items := []pos.LineItem{lineItem(soda, 3)}
		if _, err := tx.AppendSale(ctx, items, pos.SumLineItems(items), time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.AddProduct(ctx, product("Cake", "4.50", 3)); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)

	_, err = s.GetProduct(ctx, "Cake")
	assert.ErrorIs(t, err, pos.ErrProductNotFound)
}

func testWithTxCommit(t *testing.T, s pos.TxStore) {
	ctx := context.Background()
	soda := product("Soda", "6.00", 10)
	require.NoError(t, s.AddProduct(ctx, soda))

	var id pos.SaleID
	err := s.WithTx(ctx, func(tx pos.Store) error {
		if _, err := tx.AdjustStock(ctx, "Soda", -3); err != nil {
			return err
		}
		items := []pos.LineItem{lineItem(soda, 3)}
		var err error
		id, err = tx.AppendSale(ctx, items, pos.SumLineItems(items), time.Now().UTC())
		if err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		got, err := tx.GetProduct(ctx, "Soda")
		if err != nil {
			return err
		}
		if got.Stock != 7 {
			return errors.New("transaction does not see its own debit")
		}
		_, err = tx.GetSale(ctx, id)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)

	_, err = s.GetSale(ctx, id)
	require.NoError(t, err)
}

func names(products []pos.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}
