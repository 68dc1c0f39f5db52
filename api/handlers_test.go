/*
handlers_test.go - HTTP tests for the register API

Tests for:
- Catalog CRUD and error statuses
- Sale recording, lookup and deletion with stock restore
- Insufficient stock details
- CSV import from body, URL and configured source
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricCamachoDM/caixa-festa/pos"
	"github.com/EricCamachoDM/caixa-festa/pos/store"
	"github.com/EricCamachoDM/caixa-festa/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, st pos.TxStore) *testServer {
	t.Helper()
	h := NewHandler(pos.NewService(st), "")
	return &testServer{t: t, handler: h, router: NewRouter(h, nil)}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doCSV(csv string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/catalog/import", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv; charset=utf-8")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) addProduct(name, price string, stock int) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/products", map[string]any{
		"name": name, "unit_price": price, "stock": stock,
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) stock(name string) int {
	ts.t.Helper()
	rec := ts.do(http.MethodGet, "/api/products/"+name, nil)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[ProductDTO](ts.t, rec).Stock
}

func (ts *testServer) cash() string {
	ts.t.Helper()
	rec := ts.do(http.MethodGet, "/api/cash", nil)
	require.Equal(ts.t, http.StatusOK, rec.Code)
	return decode[CashDTO](ts.t, rec).Total
}

// =============================================================================
// CATALOG
// =============================================================================

func TestProducts_CreateListGet(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())

	ts.addProduct("Soda", "6.00", 10)
	// Prices may also arrive as JSON numbers.
	rec := ts.do(http.MethodPost, "/api/products", map[string]any{"name": "Cake", "unit_price": 4.5, "stock": 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[ProductDTO](t, rec)
	assert.Equal(t, "4.50", created.UnitPrice)
	assert.NotEmpty(t, created.ID)

	rec = ts.do(http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode[[]ProductDTO](t, rec)
	require.Len(t, products, 2)
	assert.Equal(t, "Cake", products[0].Name)
	assert.Equal(t, "Soda", products[1].Name)
	assert.Equal(t, "6.00", products[1].UnitPrice)
}

func TestProducts_Errors(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Soda", "6.00", 10)

	rec := ts.do(http.MethodPost, "/api/products", map[string]any{"name": "Soda", "unit_price": "5", "stock": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_name", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/products", map[string]any{"name": "Beer", "unit_price": "-1", "stock": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_product", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/products", map[string]any{"name": "Beer", "unit_price": "6.555", "stock": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "prices are whole cents")
	assert.Equal(t, "invalid_product", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/products", map[string]any{"name": "Beer", "colour": "gold"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = ts.do(http.MethodGet, "/api/products/Ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product_not_found", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodDelete, "/api/products/Ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProducts_NameWithSpaces(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Hot Dog", "7.00", 5)

	rec := ts.do(http.MethodGet, "/api/products/Hot%20Dog", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Hot Dog", decode[ProductDTO](t, rec).Name)
}

// =============================================================================
// SALES
// =============================================================================

func TestSales_RecordDeleteRoundTrip(t *testing.T) {
	// GIVEN: Soda in stock
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Soda", "6.00", 10)

	// WHEN: three sodas are sold
	rec := ts.do(http.MethodPost, "/api/sales", RecordSaleRequest{Items: map[string]int{"Soda": 3}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[SaleResultDTO](t, rec)

	// THEN: sale 1 totals 18.00, stock and cash follow
	assert.Equal(t, int64(1), res.SaleID)
	assert.Equal(t, "18.00", res.Total)
	assert.Equal(t, 7, ts.stock("Soda"))
	assert.Equal(t, "18.00", ts.cash())

	rec = ts.do(http.MethodGet, "/api/sales/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sale := decode[SaleDTO](t, rec)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "Soda", sale.Items[0].ProductName)
	assert.Equal(t, "18.00", sale.Items[0].Subtotal)

	// AND: the product cannot be removed while sold
	rec = ts.do(http.MethodDelete, "/api/products/Soda", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "referenced_by_ledger", decode[ErrorResponse](t, rec).Code)

	// WHEN: the sale is deleted
	rec = ts.do(http.MethodDelete, "/api/sales/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: stock and cash are restored, and a second delete is 404
	assert.Equal(t, 10, ts.stock("Soda"))
	assert.Equal(t, "0.00", ts.cash())
	rec = ts.do(http.MethodDelete, "/api/sales/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "sale_not_found", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodDelete, "/api/products/Soda", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSales_InsufficientStockDetails(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Soda", "6.00", 7)

	rec := ts.do(http.MethodPost, "/api/sales", RecordSaleRequest{Items: map[string]int{"Soda": 100}})

	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error   string                   `json:"error"`
		Code    string                   `json:"code"`
		Details InsufficientStockDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_stock", body.Code)
	assert.Equal(t, InsufficientStockDetails{Product: "Soda", Available: 7, Requested: 100}, body.Details)
	assert.Equal(t, 7, ts.stock("Soda"))
}

func TestSales_BadRequests(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Soda", "6.00", 7)

	rec := ts.do(http.MethodPost, "/api/sales", RecordSaleRequest{Items: map[string]int{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_basket", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/sales", RecordSaleRequest{Items: map[string]int{"Popcorn": 1}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sales/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sales/0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSales_ListNewestFirst_SQLite(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ts := newTestServer(t, st)
	ts.addProduct("Soda", "6.00", 10)

	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/api/sales", RecordSaleRequest{Items: map[string]int{"Soda": 1}})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.do(http.MethodGet, "/api/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sales := decode[[]SaleDTO](t, rec)
	require.Len(t, sales, 3)
	assert.Equal(t, int64(3), sales[0].ID)
	assert.Equal(t, int64(1), sales[2].ID)
	assert.Equal(t, "18.00", ts.cash())
}

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_CSVBody(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.addProduct("Soda", "6.00", 10)

	rec := ts.doCSV("nome;valor;quantidade\nSoda;6,50;10\nCake;4,50;12\nBroken;x;1\n")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ImportResultDTO](t, rec)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 12, ts.stock("Cake"))
	assert.Equal(t, 10, ts.stock("Soda"))
}

func TestImport_FromURLAndConfiguredSource(t *testing.T) {
	sheet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("name,price,quantity\nPastel,8.00,30\n"))
	}))
	defer sheet.Close()

	ts := newTestServer(t, store.NewMemory())

	// No source anywhere: 400.
	rec := ts.do(http.MethodPost, "/api/catalog/import", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/catalog/import", ImportRequest{URL: sheet.URL})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ImportResultDTO](t, rec).Inserted)

	ts.handler.CatalogURL = sheet.URL
	rec = ts.do(http.MethodPost, "/api/catalog/import", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ImportResultDTO](t, rec).Unchanged)
	assert.Equal(t, 30, ts.stock("Pastel"))
}

func TestImport_UnreachableSource(t *testing.T) {
	sheet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer sheet.Close()
	ts := newTestServer(t, store.NewMemory())

	rec := ts.do(http.MethodPost, "/api/catalog/import", ImportRequest{URL: sheet.URL})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "import_failed", decode[ErrorResponse](t, rec).Code)
}

func TestImport_LogsSkippedRows(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	ts := newTestServer(t, store.NewMemory())

	rec := ts.doCSV("name,price,quantity\nSoda,6.00,10\n")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, logs.String(), "[Import] request body: 1 rows, 0 dropped, 1 inserted, 0 updated, 0 unchanged, 0 skipped")
}

func TestImport_RejectsLocalPathFromClient(t *testing.T) {
	// GIVEN: a catalog-shaped file on the server's disk
	path := filepath.Join(t.TempDir(), "private.csv")
	require.NoError(t, os.WriteFile(path, []byte("nome,valor,quantidade\nSecret,1.00,1\n"), 0o644))
	ts := newTestServer(t, store.NewMemory())

	for _, source := range []string{path, "file://" + path, "ftp://sheet.example/catalog.csv"} {
		// WHEN: a client asks to import it
		rec := ts.do(http.MethodPost, "/api/catalog/import", ImportRequest{URL: source})

		// THEN: the request is refused and nothing is read
		assert.Equal(t, http.StatusBadRequest, rec.Code, source)
		assert.Equal(t, "invalid_source", decode[ErrorResponse](t, rec).Code, source)
	}
	rec := ts.do(http.MethodGet, "/api/products/Secret", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The operator-configured source may still be a local file.
	ts.handler.CatalogURL = path
	rec = ts.do(http.MethodPost, "/api/catalog/import", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ts.stock("Secret"))
}

func TestCatalogSyncScheduler_SyncOnce(t *testing.T) {
	sheet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("nome,valor,quantidade\nQuentão,5,40\n"))
	}))
	defer sheet.Close()

	svc := pos.NewService(store.NewMemory())
	sched := NewCatalogSyncScheduler(svc, sheet.URL, 0)

	_, res, err := sched.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pos.ReconcileResult{Inserted: 1}, res)

	// Interval 0 leaves the ticker off; Stop is then a no-op.
	sched.Start()
	sched.Stop()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	rec := ts.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
