/*
errors.go - Centralized error types for the point-of-sale core

ERROR CATEGORIES:
  1. Validation errors - caller mistakes or business rule violations.
     Never retried, never leave partial state.
  2. Infrastructure errors - storage unavailable, lock wait exceeded,
     unexpected constraint failures. The store transaction is rolled back
     before the error is returned.

USAGE:
  Match the category with errors.Is and the details with errors.As:

    var stockErr *pos.InsufficientStockError
    if errors.As(err, &stockErr) {
        fmt.Println(stockErr.Product, stockErr.Available, stockErr.Requested)
    }

SEE ALSO:
  - service.go: classifies store errors
  - api/handlers.go: maps categories to HTTP status codes
*/
package pos

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateName is returned when a product name is already in the catalog.
	ErrDuplicateName = errors.New("duplicate product name")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrReferencedByLedger is returned when removing a product that a
	// recorded sale still references.
	ErrReferencedByLedger = errors.New("product referenced by ledger")

	// ErrEmptyBasket is returned when a sale request has no positive quantity.
	ErrEmptyBasket = errors.New("empty basket")

	// ErrInsufficientStock is returned when a debit would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrSaleNotFound is returned when a referenced sale doesn't exist.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrInvalidProduct is returned for a malformed product (blank name,
	// negative price or stock).
	ErrInvalidProduct = errors.New("invalid product")

	// ErrStorage marks infrastructure failures.
	ErrStorage = errors.New("storage failure")

	// ErrLockTimeout is returned when a row or database lock could not be
	// acquired within the configured wait.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateNameError names the product that already exists.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("product %q already exists", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// ProductNotFoundError names the missing product.
type ProductNotFoundError struct {
	Name string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.Name)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// ReferencedByLedgerError names the product a sale still points at.
type ReferencedByLedgerError struct {
	Name string
}

func (e *ReferencedByLedgerError) Error() string {
	return fmt.Sprintf("product %q is referenced by recorded sales", e.Name)
}

func (e *ReferencedByLedgerError) Unwrap() error { return ErrReferencedByLedger }

// InsufficientStockError reports both quantities so a caller can offer a
// corrected basket.
type InsufficientStockError struct {
	Product   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.Product, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// SaleNotFoundError names the missing sale.
type SaleNotFoundError struct {
	ID SaleID
}

func (e *SaleNotFoundError) Error() string {
	return fmt.Sprintf("sale %d not found", e.ID)
}

func (e *SaleNotFoundError) Unwrap() error { return ErrSaleNotFound }

// InvalidProductError explains why a product was rejected.
type InvalidProductError struct {
	Name   string
	Reason string
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("invalid product %q: %s", e.Name, e.Reason)
}

func (e *InvalidProductError) Unwrap() error { return ErrInvalidProduct }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a business rule violation or
// invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrReferencedByLedger) ||
		errors.Is(err, ErrEmptyBasket) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidProduct)
}

// IsNotFound returns true if the error indicates a missing product or sale.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}

// IsInfrastructure returns true for storage-level failures.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrLockTimeout)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// storageError tags err as infrastructure unless it already carries a
// business category.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || IsInfrastructure(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
