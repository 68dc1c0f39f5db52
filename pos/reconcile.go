package pos

import (
	"context"
	"strings"
)

// ReconcileCatalog upserts rows into the catalog by name. Existing products
// are updated only when price or stock differ; products missing from rows
// are never deleted. Rows the catalog would reject are skipped and counted.
// The whole run is one transaction holding locks on every named product.
func (s *Service) ReconcileCatalog(ctx context.Context, rows []ImportRow) (ReconcileResult, error) {
	var result ReconcileResult

	// Last occurrence of a name wins.
	byName := make(map[string]ImportRow, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		row.Name = strings.TrimSpace(row.Name)
		candidate := Product{Name: row.Name, UnitPrice: row.UnitPrice, Stock: row.Quantity}
		if err := candidate.Validate(); err != nil {
			result.Skipped++
			continue
		}
		if _, seen := byName[row.Name]; !seen {
			order = append(order, row.Name)
		}
		byName[row.Name] = row
	}
	if len(order) == 0 {
		return result, nil
	}

	var applied ReconcileResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		applied = ReconcileResult{}
		existing, err := tx.LockProducts(ctx, order)
		if err != nil {
			return err
		}

		now := s.Clock()
		for _, name := range order {
			row := byName[name]
			current, ok := existing[name]
			if !ok {
				p := Product{
					ID:        NewProductID(),
					Name:      name,
					UnitPrice: row.UnitPrice,
					Stock:     row.Quantity,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := tx.AddProduct(ctx, p); err != nil {
					return err
				}
				applied.Inserted++
				continue
			}
			if current.UnitPrice.Equal(row.UnitPrice) && current.Stock == row.Quantity {
				applied.Unchanged++
				continue
			}
			if err := tx.UpdateProduct(ctx, name, row.UnitPrice, row.Quantity); err != nil {
				return err
			}
			applied.Updated++
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{Skipped: result.Skipped}, storageError("reconcile catalog", err)
	}

	applied.Skipped = result.Skipped
	return applied, nil
}
