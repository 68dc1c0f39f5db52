package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricCamachoDM/caixa-festa/pos"
	"github.com/EricCamachoDM/caixa-festa/pos/storetest"
	"github.com/EricCamachoDM/caixa-festa/store/sqlite"
)

func newMemoryStore(t *testing.T) pos.TxStore {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, newMemoryStore)
}

func TestSQLite_Service(t *testing.T) {
	storetest.RunService(t, newMemoryStore)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	// GIVEN: a file database with one product and one sale
	path := filepath.Join(t.TempDir(), "caixa.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	svc := pos.NewService(store)
	_, err = svc.AddProduct(ctx, "Pastel", decimal.RequireFromString("8.50"), 20)
	require.NoError(t, err)
	res, err := svc.RecordSale(ctx, pos.Basket{"Pastel": 3})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// WHEN: the database is opened again
	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	svc = pos.NewService(store)

	// THEN: catalog, ledger and cash are all still there
	p, err := svc.GetProduct(ctx, "Pastel")
	require.NoError(t, err)
	assert.Equal(t, 17, p.Stock)
	assert.Equal(t, "8.50", p.UnitPrice.StringFixed(2))

	sale, err := svc.GetSale(ctx, res.SaleID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "Pastel", sale.Items[0].ProductName)
	assert.Equal(t, p.ID, sale.Items[0].ProductID)

	total, err := svc.CashTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "25.50", total.StringFixed(2))
}

func TestSQLite_SaleIDsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caixa.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	svc := pos.NewService(store)
	_, err = svc.AddProduct(ctx, "Soda", decimal.RequireFromString("6"), 10)
	require.NoError(t, err)
	first, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSale(ctx, first.SaleID))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	svc = pos.NewService(store)

	next, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)
	assert.Greater(t, next.SaleID, first.SaleID)
}

func TestSQLite_StockCheckConstraint(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.AddProduct(ctx, pos.Product{
		ID: pos.NewProductID(), Name: "Soda", UnitPrice: decimal.NewFromInt(6),
		Stock: 1, CreatedAt: now, UpdatedAt: now,
	}))

	err = store.UpdateProduct(ctx, "Soda", decimal.NewFromInt(6), -1)
	assert.ErrorIs(t, err, pos.ErrInvalidProduct)
}

func TestSQLite_AppendSaleUnknownProduct(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	items := []pos.LineItem{{
		ProductID:   pos.NewProductID(),
		ProductName: "Ghost",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(1),
	}}
	_, err = store.AppendSale(context.Background(), items, pos.SumLineItems(items), time.Now())
	assert.ErrorIs(t, err, pos.ErrProductNotFound)

	sales, err := store.ListSales(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSQLite_Reset(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	svc := pos.NewService(store)
	_, err = svc.AddProduct(ctx, "Soda", decimal.NewFromInt(6), 3)
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
	total, err := svc.CashTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}
