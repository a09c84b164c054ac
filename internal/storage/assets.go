package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
)

// --- Asset models ---

// CreateAssetModel inserts a new asset model.
func CreateAssetModel(ctx context.Context, q Querier, m *models.AssetModel) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO asset_models (id, type, brand, model_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.Brand, m.ModelName, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetAssetModel fetches one asset model by id.
func GetAssetModel(ctx context.Context, q Querier, id string) (*models.AssetModel, error) {
	var m models.AssetModel
	err := q.QueryRowContext(ctx,
		`SELECT id, type, brand, model_name, created_at, updated_at
		 FROM asset_models WHERE id = ?`, id).
		Scan(&m.ID, &m.Type, &m.Brand, &m.ModelName, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "asset model not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &m, nil
}

// ListAssetModels returns asset models ordered by brand and model name.
func ListAssetModels(ctx context.Context, q Querier, offset, limit int) ([]*models.AssetModel, error) {
	offset, limit = ClampPage(offset, limit)
	rows, err := q.QueryContext(ctx,
		`SELECT id, type, brand, model_name, created_at, updated_at
		 FROM asset_models ORDER BY brand ASC, model_name ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var result []*models.AssetModel
	for rows.Next() {
		var m models.AssetModel
		if err := rows.Scan(&m.ID, &m.Type, &m.Brand, &m.ModelName, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

// UpdateAssetModel persists mutable asset model fields.
func UpdateAssetModel(ctx context.Context, q Querier, m *models.AssetModel) error {
	res, err := q.ExecContext(ctx,
		`UPDATE asset_models SET type = ?, brand = ?, model_name = ?, updated_at = ? WHERE id = ?`,
		m.Type, m.Brand, m.ModelName, time.Now().UTC(), m.ID)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "asset model not found")
}

// DeleteAssetModel removes an asset model. Models still referenced by items
// or stock fail with a conflict via the FK constraint.
func DeleteAssetModel(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM asset_models WHERE id = ?`, id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "asset model not found")
}

// --- Asset items ---

// CreateAssetItem inserts a new asset item.
func CreateAssetItem(ctx context.Context, q Querier, a *models.AssetItem) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO asset_items (id, asset_model_id, asset_tag, serial, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AssetModelID, nullString(a.AssetTag), nullString(a.Serial), a.Status,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetAssetItem fetches one asset item by id.
func GetAssetItem(ctx context.Context, q Querier, id string) (*models.AssetItem, error) {
	var a models.AssetItem
	var tag, serial sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, asset_model_id, asset_tag, serial, status, created_at, updated_at
		 FROM asset_items WHERE id = ?`, id).
		Scan(&a.ID, &a.AssetModelID, &tag, &serial, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "asset item not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	a.AssetTag, a.Serial = tag.String, serial.String
	return &a, nil
}

// ListAssetItems returns asset items, optionally filtered by status or model.
func ListAssetItems(ctx context.Context, q Querier, status, modelID string, offset, limit int) ([]*models.AssetItem, error) {
	query := `SELECT id, asset_model_id, asset_tag, serial, status, created_at, updated_at
		 FROM asset_items WHERE 1=1`
	var args []interface{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if modelID != "" {
		query += ` AND asset_model_id = ?`
		args = append(args, modelID)
	}
	offset, limit = ClampPage(offset, limit)
	query += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var result []*models.AssetItem
	for rows.Next() {
		var a models.AssetItem
		var tag, serial sql.NullString
		if err := rows.Scan(&a.ID, &a.AssetModelID, &tag, &serial, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		a.AssetTag, a.Serial = tag.String, serial.String
		result = append(result, &a)
	}
	return result, rows.Err()
}

// UpdateAssetItem persists mutable asset item fields.
func UpdateAssetItem(ctx context.Context, q Querier, a *models.AssetItem) error {
	res, err := q.ExecContext(ctx,
		`UPDATE asset_items SET asset_model_id = ?, asset_tag = ?, serial = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		a.AssetModelID, nullString(a.AssetTag), nullString(a.Serial), a.Status, time.Now().UTC(), a.ID)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "asset item not found")
}

// SetAssetItemStatus transitions an asset item's status, asserting the
// expected current status. A zero-row update means the item was concurrently
// moved, which the caller surfaces as a conflict.
func SetAssetItemStatus(ctx context.Context, q Querier, id, from, to string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE asset_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return classifyError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return apperr.Newf(apperr.KindConflict, "asset item is not %s", from)
	}
	return nil
}

// DeleteAssetItem removes an asset item. Items referenced by loan lines fail
// with a conflict via the FK constraint.
func DeleteAssetItem(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM asset_items WHERE id = ?`, id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "asset item not found")
}
