// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the catalog and ledger in process memory. Every WithTx holds
// the write lock for its whole duration, which serializes transactions and
// stands in for row locks.
type Memory struct {
	mu         sync.RWMutex
	products   map[string]pos.Product
	sales      map[pos.SaleID]pos.Sale
	references map[pos.ProductID]int // line items per product
	lastSaleID pos.SaleID
}

var _ pos.TxStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:   make(map[string]pos.Product),
		sales:      make(map[pos.SaleID]pos.Sale),
		references: make(map[pos.ProductID]int),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) AddProduct(_ context.Context, p pos.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addProductLocked(p)
}

func (m *Memory) addProductLocked(p pos.Product) error {
	if _, exists := m.products[p.Name]; exists {
		return &pos.DuplicateNameError{Name: p.Name}
	}
	m.products[p.Name] = p
	return nil
}

func (m *Memory) RemoveProduct(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeProductLocked(name)
}

func (m *Memory) removeProductLocked(name string) error {
	p, ok := m.products[name]
	if !ok {
		return &pos.ProductNotFoundError{Name: name}
	}
	if m.references[p.ID] > 0 {
		return &pos.ReferencedByLedgerError{Name: name}
	}
	delete(m.products, name)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, name string) (pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(name)
}

func (m *Memory) getProductLocked(name string) (pos.Product, error) {
	p, ok := m.products[name]
	if !ok {
		return pos.Product{}, &pos.ProductNotFoundError{Name: name}
	}
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked(), nil
}

func (m *Memory) listProductsLocked() []pos.Product {
	result := make([]pos.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	pos.SortProducts(result)
	return result
}

func (m *Memory) UpdateProduct(_ context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProductLocked(name, unitPrice, stock)
}

func (m *Memory) updateProductLocked(name string, unitPrice decimal.Decimal, stock int) error {
	p, ok := m.products[name]
	if !ok {
		return &pos.ProductNotFoundError{Name: name}
	}
	if stock < 0 {
		return &pos.InvalidProductError{Name: name, Reason: "stock must not be negative"}
	}
	p.UnitPrice = unitPrice
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	m.products[name] = p
	return nil
}

func (m *Memory) AdjustStock(_ context.Context, name string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustStockLocked(name, delta)
}

func (m *Memory) adjustStockLocked(name string, delta int) (int, error) {
	p, ok := m.products[name]
	if !ok {
		return 0, &pos.ProductNotFoundError{Name: name}
	}
	if p.Stock+delta < 0 {
		return p.Stock, &pos.InsufficientStockError{Product: name, Available: p.Stock, Requested: -delta}
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	m.products[name] = p
	return p.Stock, nil
}

// LockProducts outside a transaction only reads; the write lock that makes
// it exclusive is taken by WithTx.
func (m *Memory) LockProducts(_ context.Context, names []string) (map[string]pos.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockProductsLocked(names), nil
}

func (m *Memory) lockProductsLocked(names []string) map[string]pos.Product {
	result := make(map[string]pos.Product, len(names))
	for _, name := range names {
		if p, ok := m.products[name]; ok {
			result[name] = p
		}
	}
	return result
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendSale(_ context.Context, items []pos.LineItem, total decimal.Decimal, at time.Time) (pos.SaleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendSaleLocked(items, total, at), nil
}

func (m *Memory) appendSaleLocked(items []pos.LineItem, total decimal.Decimal, at time.Time) pos.SaleID {
	m.lastSaleID++
	sale := pos.Sale{
		ID:        m.lastSaleID,
		Timestamp: at,
		Items:     append([]pos.LineItem(nil), items...),
		Total:     total,
	}
	m.sales[sale.ID] = sale
	for _, item := range items {
		m.references[item.ProductID]++
	}
	return sale.ID
}

func (m *Memory) GetSale(_ context.Context, id pos.SaleID) (pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id)
}

func (m *Memory) getSaleLocked(id pos.SaleID) (pos.Sale, error) {
	sale, ok := m.sales[id]
	if !ok {
		return pos.Sale{}, &pos.SaleNotFoundError{ID: id}
	}
	sale.Items = append([]pos.LineItem(nil), sale.Items...)
	return sale, nil
}

func (m *Memory) RemoveSale(_ context.Context, id pos.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeSaleLocked(id)
}

func (m *Memory) removeSaleLocked(id pos.SaleID) error {
	sale, ok := m.sales[id]
	if !ok {
		return &pos.SaleNotFoundError{ID: id}
	}
	for _, item := range sale.Items {
		m.references[item.ProductID]--
		if m.references[item.ProductID] <= 0 {
			delete(m.references, item.ProductID)
		}
	}
	delete(m.sales, id)
	return nil
}

func (m *Memory) ListSales(_ context.Context) ([]pos.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(), nil
}

func (m *Memory) listSalesLocked() []pos.Sale {
	result := make([]pos.Sale, 0, len(m.sales))
	for _, sale := range m.sales {
		sale.Items = append([]pos.LineItem(nil), sale.Items...)
		result = append(result, sale)
	}
	pos.SortSales(result)
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products   map[string]pos.Product
	sales      map[pos.SaleID]pos.Sale
	references map[pos.ProductID]int
	lastSaleID pos.SaleID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:   make(map[string]pos.Product, len(m.products)),
		sales:      make(map[pos.SaleID]pos.Sale, len(m.sales)),
		references: make(map[pos.ProductID]int, len(m.references)),
		lastSaleID: m.lastSaleID,
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	// Sales are never mutated in place, so sharing the item slices is safe.
	for k, v := range m.sales {
		s.sales[k] = v
	}
	for k, v := range m.references {
		s.references[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.sales = s.sales
	m.references = s.references
	m.lastSaleID = s.lastSaleID
}

// txMemoryView runs against the parent with the write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AddProduct(_ context.Context, p pos.Product) error {
	return tv.parent.addProductLocked(p)
}

func (tv *txMemoryView) RemoveProduct(_ context.Context, name string) error {
	return tv.parent.removeProductLocked(name)
}

func (tv *txMemoryView) GetProduct(_ context.Context, name string) (pos.Product, error) {
	return tv.parent.getProductLocked(name)
}

func (tv *txMemoryView) ListProducts(_ context.Context) ([]pos.Product, error) {
	return tv.parent.listProductsLocked(), nil
}

func (tv *txMemoryView) UpdateProduct(_ context.Context, name string, unitPrice decimal.Decimal, stock int) error {
	return tv.parent.updateProductLocked(name, unitPrice, stock)
}

func (tv *txMemoryView) AdjustStock(_ context.Context, name string, delta int) (int, error) {
	return tv.parent.adjustStockLocked(name, delta)
}

func (tv *txMemoryView) LockProducts(_ context.Context, names []string) (map[string]pos.Product, error) {
	return tv.parent.lockProductsLocked(names), nil
}

func (tv *txMemoryView) AppendSale(_ context.Context, items []pos.LineItem, total decimal.Decimal, at time.Time) (pos.SaleID, error) {
	return tv.parent.appendSaleLocked(items, total, at), nil
}

func (tv *txMemoryView) GetSale(_ context.Context, id pos.SaleID) (pos.Sale, error) {
	return tv.parent.getSaleLocked(id)
}

func (tv *txMemoryView) RemoveSale(_ context.Context, id pos.SaleID) error {
	return tv.parent.removeSaleLocked(id)
}

func (tv *txMemoryView) ListSales(_ context.Context) ([]pos.Sale, error) {
	return tv.parent.listSalesLocked(), nil
}
