/*
handlers.go - HTTP API handlers for the event register

PURPOSE:
  Exposes pos.Service via REST. Handles HTTP request/response and JSON
  serialization; every rule lives in pos.

ENDPOINTS:
  Catalog:
    GET    /api/products               List products (name order)
    POST   /api/products               Add product
    GET    /api/products/{name}        Get product
    DELETE /api/products/{name}        Remove product (refused while sold)

  Sales:
    GET    /api/sales                  List sales (newest first)
    POST   /api/sales                  Record a sale from a basket
    GET    /api/sales/{id}             Get sale with line items
    DELETE /api/sales/{id}             Delete sale, restoring stock

  Cash:
    GET    /api/cash                   Register total

  Import:
    POST   /api/catalog/import         Reconcile the catalog from CSV
      body text/csv          parse the body itself
      body {"url": "..."}    fetch that source
      empty body             fetch the configured catalog URL

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, empty basket
  - 404: Product or sale not found
  - 409: Duplicate name, product still referenced, insufficient stock
  - 503: Lock wait timed out (retry)
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/EricCamachoDM/caixa-festa/importer"
	"github.com/EricCamachoDM/caixa-festa/pos"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *pos.Service

	// CatalogURL is used when an import request names no source.
	CatalogURL string
	HTTPClient *http.Client
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *pos.Service, catalogURL string) *Handler {
	return &Handler{
		Service:    svc,
		CatalogURL: catalogURL,
		HTTPClient: http.DefaultClient,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Service.AddProduct(r.Context(), req.Name, req.UnitPrice, req.Stock)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns one product by name.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProduct(r.Context(), productName(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// DeleteProduct removes a product no sale references.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RemoveProduct(r.Context(), productName(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// productName decodes the {name} segment; names may contain spaces.
func productName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns the ledger, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Service.ListSales(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]SaleDTO, 0, len(sales))
	for _, s := range sales {
		dtos = append(dtos, toSaleDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordSale sells a basket atomically.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.RecordSale(r.Context(), pos.Basket(req.Items))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SaleResultDTO{SaleID: int64(res.SaleID), Total: money(res.Total)})
}

// GetSale returns one sale with its line items.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	sale, err := h.Service.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// DeleteSale removes a sale and restores its stock.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteSale(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func saleID(w http.ResponseWriter, r *http.Request) (pos.SaleID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid sale id", err)
		return 0, false
	}
	return pos.SaleID(id), true
}

// =============================================================================
// CASH
// =============================================================================

// GetCash returns the cash total summed from the ledger.
func (h *Handler) GetCash(w http.ResponseWriter, r *http.Request) {
	total, err := h.Service.CashTotal(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CashDTO{Total: money(total)})
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportCatalog reconciles the catalog with a CSV source.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, importer.MaxSourceBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	var (
		source string
		rows   []pos.ImportRow
		report importer.Report
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "text/csv" || mediaType == "text/plain":
		source = "request body"
		rows, report, err = importer.Parse(bytes.NewReader(body))
	default:
		var req ImportRequest
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}
		// Local paths are only read from the operator-configured source.
		source = strings.TrimSpace(req.URL)
		if source != "" && !importer.IsRemote(source) {
			writeErrorCode(w, http.StatusBadRequest, "Catalog URL must be http or https", "invalid_source", source)
			return
		}
		if source == "" {
			source = h.CatalogURL
		}
		if source == "" {
			writeError(w, http.StatusBadRequest, "No catalog source configured", nil)
			return
		}
		rows, report, err = importer.Load(r.Context(), h.HTTPClient, source)
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, importer.ErrFetch) {
			status = http.StatusBadGateway
		}
		writeErrorCode(w, status, "Failed to read catalog", "import_failed", err.Error())
		return
	}

	res, err := h.Service.ReconcileCatalog(r.Context(), rows)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	log.Printf("[Import] %s: %d rows, %d dropped, %d inserted, %d updated, %d unchanged, %d skipped",
		source, report.Rows, report.Dropped, res.Inserted, res.Updated, res.Unchanged, res.Skipped)
	writeJSON(w, http.StatusOK, toImportResultDTO(source, report, res))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeServiceError maps pos errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *pos.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeErrorCode(w, http.StatusConflict, err.Error(), "insufficient_stock", InsufficientStockDetails{
			Product:   stockErr.Product,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
	case errors.Is(err, pos.ErrEmptyBasket):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "empty_basket", nil)
	case errors.Is(err, pos.ErrInvalidProduct):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "invalid_product", nil)
	case errors.Is(err, pos.ErrProductNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "product_not_found", nil)
	case errors.Is(err, pos.ErrSaleNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "sale_not_found", nil)
	case errors.Is(err, pos.ErrDuplicateName):
		writeErrorCode(w, http.StatusConflict, err.Error(), "duplicate_name", nil)
	case errors.Is(err, pos.ErrReferencedByLedger):
		writeErrorCode(w, http.StatusConflict, err.Error(), "referenced_by_ledger", nil)
	case pos.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeErrorCode(w, http.StatusServiceUnavailable, "Store busy, try again", "lock_timeout", err.Error())
	default:
		log.Printf("[API] storage error: %v", err)
		writeErrorCode(w, http.StatusInternalServerError, "Storage error", "storage_error", err.Error())
	}
}
