/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money leaves the API
  as fixed two-decimal strings ("18.00") and is accepted either as a JSON
  number or a string, so no float ever touches a price.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:  ProductDTO, CreateProductRequest
  Ledger:   SaleDTO, LineItemDTO, RecordSaleRequest, SaleResultDTO
  Cash:     CashDTO
  Import:   ImportRequest, ImportResultDTO

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/EricCamachoDM/caixa-festa/importer"
	"github.com/EricCamachoDM/caixa-festa/pos"
)

// =============================================================================
// CATALOG
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Stock     int    `json:"stock"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CreateProductRequest is the request to add a product.
type CreateProductRequest struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LineItemDTO is one line of a sale with the price it was sold at.
type LineItemDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// SaleDTO represents a recorded sale.
type SaleDTO struct {
	ID        int64         `json:"id"`
	Timestamp string        `json:"timestamp"`
	Items     []LineItemDTO `json:"items"`
	Total     string        `json:"total"`
}

// RecordSaleRequest maps product name to quantity.
type RecordSaleRequest struct {
	Items map[string]int `json:"items"`
}

// SaleResultDTO is the response to a recorded sale.
type SaleResultDTO struct {
	SaleID int64  `json:"sale_id"`
	Total  string `json:"total"`
}

// CashDTO is the register total derived from the ledger.
type CashDTO struct {
	Total string `json:"total"`
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportRequest names a catalog source. Empty means the configured one.
type ImportRequest struct {
	URL string `json:"url"`
}

// ImportResultDTO combines the parse report and the reconcile counts.
type ImportResultDTO struct {
	Source    string   `json:"source,omitempty"`
	Rows      int      `json:"rows"`
	Dropped   int      `json:"dropped"`
	Reasons   []string `json:"reasons,omitempty"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// InsufficientStockDetails lets a client offer a corrected basket.
type InsufficientStockDetails struct {
	Product   string `json:"product"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toProductDTO(p pos.Product) ProductDTO {
	return ProductDTO{
		ID:        p.ID.String(),
		Name:      p.Name,
		UnitPrice: money(p.UnitPrice),
		Stock:     p.Stock,
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
	}
}

func toSaleDTO(s pos.Sale) SaleDTO {
	items := make([]LineItemDTO, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, LineItemDTO{
			ProductID:   item.ProductID.String(),
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			Subtotal:    money(item.Subtotal()),
		})
	}
	return SaleDTO{
		ID:        int64(s.ID),
		Timestamp: formatTime(s.Timestamp),
		Items:     items,
		Total:     money(s.Total),
	}
}

func toImportResultDTO(source string, report importer.Report, res pos.ReconcileResult) ImportResultDTO {
	return ImportResultDTO{
		Source:    source,
		Rows:      report.Rows,
		Dropped:   report.Dropped,
		Reasons:   report.Reasons,
		Inserted:  res.Inserted,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Skipped:   res.Skipped,
	}
}
