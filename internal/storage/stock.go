package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
)

// CreateStockItem inserts a new stock item. One stock row per asset model.
func CreateStockItem(ctx context.Context, q Querier, s *models.StockItem) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO stock_items (id, asset_model_id, quantity, loaned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.AssetModelID, s.Quantity, s.Loaned, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetStockItem fetches one stock item by id.
func GetStockItem(ctx context.Context, q Querier, id string) (*models.StockItem, error) {
	return scanStockItem(q.QueryRowContext(ctx,
		`SELECT id, asset_model_id, quantity, loaned, created_at, updated_at
		 FROM stock_items WHERE id = ?`, id))
}

// GetStockItemByModel fetches the stock item for an asset model.
func GetStockItemByModel(ctx context.Context, q Querier, modelID string) (*models.StockItem, error) {
	return scanStockItem(q.QueryRowContext(ctx,
		`SELECT id, asset_model_id, quantity, loaned, created_at, updated_at
		 FROM stock_items WHERE asset_model_id = ?`, modelID))
}

// ListStockItems returns stock items ordered by creation time.
func ListStockItems(ctx context.Context, q Querier, offset, limit int) ([]*models.StockItem, error) {
	offset, limit = ClampPage(offset, limit)
	rows, err := q.QueryContext(ctx,
		`SELECT id, asset_model_id, quantity, loaned, created_at, updated_at
		 FROM stock_items ORDER BY created_at ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var result []*models.StockItem
	for rows.Next() {
		var s models.StockItem
		if err := rows.Scan(&s.ID, &s.AssetModelID, &s.Quantity, &s.Loaned, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

// UpdateStockQuantity sets the total quantity. Reducing below the currently
// loaned count trips the CHECK constraint and surfaces a conflict.
func UpdateStockQuantity(ctx context.Context, q Querier, id string, quantity int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE stock_items SET quantity = ?, updated_at = ? WHERE id = ?`,
		quantity, time.Now().UTC(), id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "stock item not found")
}

// AdjustStockLoaned moves the loaned count by delta (positive = reserve,
// negative = release). Must run inside a serializable transaction; the guard
// in the WHERE clause plus the CHECK constraint keep 0 <= loaned <= quantity
// even under parallel load. A zero-row update means insufficient stock.
func AdjustStockLoaned(ctx context.Context, q Querier, id string, delta int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE stock_items
		 SET loaned = loaned + ?, updated_at = ?
		 WHERE id = ? AND loaned + ? >= 0 AND loaned + ? <= quantity`,
		delta, time.Now().UTC(), id, delta, delta)
	if err != nil {
		return classifyError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, "insufficient stock available")
	}
	return nil
}

// DeleteStockItem removes a stock item. Items with loaned stock or loan line
// references fail with a conflict.
func DeleteStockItem(ctx context.Context, q Querier, id string) error {
	s, err := GetStockItem(ctx, q, id)
	if err != nil {
		return err
	}
	if s.Loaned > 0 {
		return apperr.New(apperr.KindConflict, "stock item has outstanding loans")
	}
	res, err := q.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "stock item not found")
}

func scanStockItem(row *sql.Row) (*models.StockItem, error) {
	var s models.StockItem
	err := row.Scan(&s.ID, &s.AssetModelID, &s.Quantity, &s.Loaned, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "stock item not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &s, nil
}
