package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// RunService drives pos.Service end to end over stores built by newStore.
func RunService(t *testing.T, newStore Factory) {
	t.Run("CheckoutScenario", func(t *testing.T) { testCheckoutScenario(t, newService(t, newStore)) })
	t.Run("BasketAllOrNothing", func(t *testing.T) { testBasketAllOrNothing(t, newService(t, newStore)) })
	t.Run("DeleteRestoresExactDebit", func(t *testing.T) { testDeleteRestoresExactDebit(t, newService(t, newStore)) })
	t.Run("PriceSnapshot", func(t *testing.T) { testPriceSnapshot(t, newService(t, newStore)) })
	t.Run("PricesAreWholeCents", func(t *testing.T) { testPricesAreWholeCents(t, newService(t, newStore)) })
	t.Run("ReconcileIdempotent", func(t *testing.T) { testReconcileIdempotent(t, newService(t, newStore)) })
	t.Run("ConcurrentSalesNeverOversell", func(t *testing.T) { testConcurrentSales(t, newService(t, newStore)) })
}

func newService(t *testing.T, newStore Factory) *pos.Service {
	svc := pos.NewService(newStore(t))
	var mu sync.Mutex
	clock := time.Date(2025, time.June, 21, 18, 0, 0, 0, time.UTC)
	svc.Clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func cash(t *testing.T, svc *pos.Service) string {
	total, err := svc.CashTotal(context.Background())
	require.NoError(t, err)
	return total.StringFixed(2)
}

func stockOf(t *testing.T, svc *pos.Service, name string) int {
	p, err := svc.GetProduct(context.Background(), name)
	require.NoError(t, err)
	return p.Stock
}

// assertCashMatchesLedger checks that the cash total equals the ledger sum.
func assertCashMatchesLedger(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	sales, err := svc.ListSales(ctx)
	require.NoError(t, err)
	sum := price("0")
	for _, sale := range sales {
		sum = sum.Add(sale.Total)
	}
	total, err := svc.CashTotal(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Equal(total), "cash %s != ledger %s", total, sum)
}

func testCheckoutScenario(t *testing.T, svc *pos.Service) {
	ctx := context.Background()

	// GIVEN: an empty catalog, Soda is added
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)
	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Soda", products[0].Name)
	assert.Equal(t, 10, products[0].Stock)

	// WHEN: three sodas are sold
	res, err := svc.RecordSale(ctx, pos.Basket{"Soda": 3})
	require.NoError(t, err)

	// THEN: sale 1 for 18.00, stock 7, cash 18.00
	assert.Equal(t, pos.SaleID(1), res.SaleID)
	assert.Equal(t, "18.00", res.Total.StringFixed(2))
	assert.Equal(t, 7, stockOf(t, svc, "Soda"))
	assert.Equal(t, "18.00", cash(t, svc))

	// WHEN: the basket exceeds stock
	_, err = svc.RecordSale(ctx, pos.Basket{"Soda": 100})
	var stockErr *pos.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Soda", stockErr.Product)
	assert.Equal(t, 7, stockErr.Available)
	assert.Equal(t, 100, stockErr.Requested)
	assert.Equal(t, 7, stockOf(t, svc, "Soda"))
	assert.Equal(t, "18.00", cash(t, svc))

	// WHEN: adding Soda again
	_, err = svc.AddProduct(ctx, "Soda", price("5.00"), 1)
	assert.ErrorIs(t, err, pos.ErrDuplicateName)

	// WHEN: removing Soda while sale 1 references it
	err = svc.RemoveProduct(ctx, "Soda")
	assert.ErrorIs(t, err, pos.ErrReferencedByLedger)
	assert.Equal(t, 7, stockOf(t, svc, "Soda"))

	// WHEN: sale 1 is deleted
	require.NoError(t, svc.DeleteSale(ctx, res.SaleID))
	assert.Equal(t, 10, stockOf(t, svc, "Soda"))
	assert.Equal(t, "0.00", cash(t, svc))
	sales, err := svc.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)

	err = svc.DeleteSale(ctx, res.SaleID)
	var saleErr *pos.SaleNotFoundError
	require.ErrorAs(t, err, &saleErr)
	assert.Equal(t, res.SaleID, saleErr.ID)

	// THEN: Soda can be removed and re-added with a fresh identity,
	// and the next sale gets a fresh id.
	before, err := svc.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveProduct(ctx, "Soda"))
	again, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, again.ID)

	res2, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)
	assert.Greater(t, res2.SaleID, res.SaleID)
	assertCashMatchesLedger(t, svc)
}

func testBasketAllOrNothing(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, "Cake", price("4.50"), 2)
	require.NoError(t, err)

	_, err = svc.RecordSale(ctx, pos.Basket{})
	assert.ErrorIs(t, err, pos.ErrEmptyBasket)
	_, err = svc.RecordSale(ctx, pos.Basket{"Soda": 0, "Cake": -1})
	assert.ErrorIs(t, err, pos.ErrEmptyBasket)

	// Soda alone would pass; Cake is short, so nothing is debited.
	_, err = svc.RecordSale(ctx, pos.Basket{"Soda": 2, "Cake": 3})
	assert.ErrorIs(t, err, pos.ErrInsufficientStock)

	_, err = svc.RecordSale(ctx, pos.Basket{"Soda": 2, "Popcorn": 1})
	var notFound *pos.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Popcorn", notFound.Name)

	assert.Equal(t, 10, stockOf(t, svc, "Soda"))
	assert.Equal(t, 2, stockOf(t, svc, "Cake"))
	assert.Equal(t, "0.00", cash(t, svc))

	// Zero quantities are ignored next to positive ones.
	res, err := svc.RecordSale(ctx, pos.Basket{"Soda": 2, "Cake": 2, "Popcorn": 0})
	require.NoError(t, err)
	assert.Equal(t, "21.00", res.Total.StringFixed(2))
	sale, err := svc.GetSale(ctx, res.SaleID)
	require.NoError(t, err)
	assert.Len(t, sale.Items, 2)
	assert.Equal(t, 0, stockOf(t, svc, "Cake"))
	assertCashMatchesLedger(t, svc)
}

func testDeleteRestoresExactDebit(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, "Cake", price("4.50"), 5)
	require.NoError(t, err)

	first, err := svc.RecordSale(ctx, pos.Basket{"Soda": 4, "Cake": 1})
	require.NoError(t, err)
	second, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)

	// A resync lowers Soda to 2 after the sale; restoring is additive only.
	_, err = svc.ReconcileCatalog(ctx, []pos.ImportRow{{Name: "Soda", UnitPrice: price("6.00"), Quantity: 2}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSale(ctx, first.SaleID))
	assert.Equal(t, 6, stockOf(t, svc, "Soda"))
	assert.Equal(t, 5, stockOf(t, svc, "Cake"))

	sales, err := svc.ListSales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, second.SaleID, sales[0].ID)
	assert.Equal(t, "6.00", cash(t, svc))
}

func testPriceSnapshot(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)

	res, err := svc.RecordSale(ctx, pos.Basket{"Soda": 2})
	require.NoError(t, err)

	_, err = svc.ReconcileCatalog(ctx, []pos.ImportRow{{Name: "Soda", UnitPrice: price("9.99"), Quantity: 8}})
	require.NoError(t, err)

	sale, err := svc.GetSale(ctx, res.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", sale.Total.StringFixed(2))
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "6.00", sale.Items[0].UnitPrice.StringFixed(2))
	assert.True(t, sale.Total.Equal(sale.RecomputeTotal()))

	next, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
	require.NoError(t, err)
	assert.Equal(t, "9.99", next.Total.StringFixed(2))
	assert.Equal(t, "21.99", cash(t, svc))
}

// Every backend must store exactly the price it was given.
func testPricesAreWholeCents(t *testing.T, svc *pos.Service) {
	ctx := context.Background()

	// GIVEN: a price with a fraction of a cent
	_, err := svc.AddProduct(ctx, "Soda", price("6.555"), 10)

	// THEN: it is rejected before reaching the store
	assert.ErrorIs(t, err, pos.ErrInvalidProduct)
	_, err = svc.GetProduct(ctx, "Soda")
	assert.ErrorIs(t, err, pos.ErrProductNotFound)

	res, err := svc.ReconcileCatalog(ctx, []pos.ImportRow{{Name: "Soda", UnitPrice: price("6.555"), Quantity: 10}})
	require.NoError(t, err)
	assert.Equal(t, pos.ReconcileResult{Skipped: 1}, res)

	// WHEN: the price is whole cents
	added, err := svc.AddProduct(ctx, "Soda", price("6.55"), 10)
	require.NoError(t, err)
	sale, err := svc.RecordSale(ctx, pos.Basket{"Soda": 2})
	require.NoError(t, err)

	// THEN: stored price, sale total and cash agree to the cent
	stored, err := svc.GetProduct(ctx, "Soda")
	require.NoError(t, err)
	assert.True(t, added.UnitPrice.Equal(stored.UnitPrice), "added %s, stored %s", added.UnitPrice, stored.UnitPrice)
	assert.Equal(t, "13.10", sale.Total.StringFixed(2))
	assert.Equal(t, "13.10", cash(t, svc))
	assertCashMatchesLedger(t, svc)
}

func testReconcileIdempotent(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, "Kept", price("1.00"), 1)
	require.NoError(t, err)

	rows := []pos.ImportRow{
		{Name: "Soda", UnitPrice: price("6.5"), Quantity: 10},
		{Name: "Cake", UnitPrice: price("4.50"), Quantity: 12},
		{Name: "Pastel", UnitPrice: price("8"), Quantity: 30},
		{Name: "  ", UnitPrice: price("1"), Quantity: 1},
		{Name: "Broken", UnitPrice: price("-1"), Quantity: 1},
	}

	first, err := svc.ReconcileCatalog(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, pos.ReconcileResult{Inserted: 2, Updated: 1, Unchanged: 0, Skipped: 2}, first)

	second, err := svc.ReconcileCatalog(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 3, second.Unchanged)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cake", "Kept", "Pastel", "Soda"}, names(products), "reconcile never deletes")
}

func testConcurrentSales(t *testing.T, svc *pos.Service) {
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", price("6.00"), 10)
	require.NoError(t, err)

	const buyers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		other     []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(ctx, pos.Basket{"Soda": 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, pos.ErrInsufficientStock):
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, stockOf(t, svc, "Soda"))
	assert.Equal(t, "60.00", cash(t, svc))
	assertCashMatchesLedger(t, svc)
}
