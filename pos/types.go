/*
Package pos provides the point-of-sale core for the charity event register.

PURPOSE:
  Holds the catalog/ledger domain types and the sale transaction protocol.
  Storage backends (memory, SQLite, PostgreSQL) implement the interfaces in
  store.go; the HTTP layer and the CSV importer call into Service.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product:   a sellable item with a unit price and a stock quantity
  - Sale:      an immutable ledger entry made of line items
  - LineItem:  one product's contribution to a sale, price frozen at sale time
  - Basket:    the requested product -> quantity mapping for one sale

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Price snapshot: a LineItem keeps the unit price it was sold at, so later
     catalog price changes never alter historical sale totals
  3. Derived cash: the cash total is always summed from the ledger

SEE ALSO:
  - store.go:   Catalog / Ledger persistence interfaces
  - service.go: RecordSale / DeleteSale protocol
  - errors.go:  Error taxonomy
*/
package pos

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ProductID is the internal identity of a catalog row. A product removed and
// later re-added under the same name gets a fresh ProductID.
type ProductID = uuid.UUID

// SaleID is assigned by the ledger: positive, monotonic, never reused.
type SaleID int64

// NewProductID returns a fresh product identity.
func NewProductID() ProductID { return uuid.New() }

// =============================================================================
// CATALOG
// =============================================================================

// Catalog limits. Prices are whole cents and fit NUMERIC(12,2); stock fits a
// 32-bit INTEGER column.
const (
	PriceScale = 2
	MaxStock   = math.MaxInt32
)

// MaxUnitPrice is the largest price every backend can store.
var MaxUnitPrice = decimal.New(1, 10).Sub(decimal.New(1, -PriceScale))

// Product is a catalog row. Name is the unique, case-sensitive key.
type Product struct {
	ID        ProductID
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the shape of a product before it reaches a store.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &InvalidProductError{Name: p.Name, Reason: "name is required"}
	}
	if p.UnitPrice.IsNegative() {
		return &InvalidProductError{Name: p.Name, Reason: "unit price must not be negative"}
	}
	if !p.UnitPrice.Equal(p.UnitPrice.Truncate(PriceScale)) {
		return &InvalidProductError{Name: p.Name, Reason: "unit price must be in whole cents"}
	}
	if p.UnitPrice.GreaterThan(MaxUnitPrice) {
		return &InvalidProductError{Name: p.Name, Reason: "unit price is too large"}
	}
	if p.Stock < 0 {
		return &InvalidProductError{Name: p.Name, Reason: "stock must not be negative"}
	}
	if p.Stock > MaxStock {
		return &InvalidProductError{Name: p.Name, Reason: "stock is too large"}
	}
	return nil
}

// SortProducts orders products by name, ascending.
func SortProducts(products []Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
}

// =============================================================================
// LEDGER
// =============================================================================

// LineItem is one product's contribution to a sale.
type LineItem struct {
	ProductID   ProductID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal // captured at sale time
}

// Subtotal is Quantity * UnitPrice.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Sale is a recorded ledger entry.
type Sale struct {
	ID        SaleID
	Timestamp time.Time
	Items     []LineItem
	Total     decimal.Decimal
}

// RecomputeTotal sums the line item subtotals. A stored sale always has
// Total equal to RecomputeTotal().
func (s Sale) RecomputeTotal() decimal.Decimal {
	return SumLineItems(s.Items)
}

// SumLineItems returns the sum of the subtotals.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// SortSales orders sales most-recent first; ties break on the higher ID.
func SortSales(sales []Sale) {
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].Timestamp.Equal(sales[j].Timestamp) {
			return sales[i].Timestamp.After(sales[j].Timestamp)
		}
		return sales[i].ID > sales[j].ID
	})
}

// =============================================================================
// SALE REQUESTS
// =============================================================================

// Basket maps product name to requested quantity.
type Basket map[string]int

// Lines returns the positive entries sorted by product name. Zero and
// negative quantities are dropped.
func (b Basket) Lines() []BasketLine {
	lines := make([]BasketLine, 0, len(b))
	for name, qty := range b {
		if qty > 0 {
			lines = append(lines, BasketLine{Name: name, Quantity: qty})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Name < lines[j].Name })
	return lines
}

// BasketLine is one positive basket entry.
type BasketLine struct {
	Name     string
	Quantity int
}

// SaleResult is returned by RecordSale.
type SaleResult struct {
	SaleID SaleID
	Total  decimal.Decimal
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ImportRow is one well-formed row from the remote catalog file.
type ImportRow struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// ReconcileResult reports what a reconciliation changed.
type ReconcileResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}
