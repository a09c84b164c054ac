package storage

import (
	"context"
	"database/sql"

	"github.com/bobmcallan/depot/internal/models"
)

// InsertAuditEntry appends one audit record. Callers pass the transaction
// of the mutation being audited so both commit or roll back together.
func InsertAuditEntry(ctx context.Context, q Querier, e *models.AuditEntry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_entries (id, actor_id, action, entity_type, entity_id,
		 old_values, new_values, ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID,
		nullString(e.OldValues), nullString(e.NewValues),
		nullString(e.IP), nullString(e.UserAgent), e.CreatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// ListAuditEntries returns audit records matching the filter, newest first.
func ListAuditEntries(ctx context.Context, q Querier, f models.AuditFilter) ([]*models.AuditEntry, error) {
	query := `SELECT id, actor_id, action, entity_type, entity_id,
		 old_values, new_values, ip, user_agent, created_at
		 FROM audit_entries WHERE 1=1`
	var args []interface{}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	offset, limit := ClampPage(f.Offset, f.Limit)
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var oldV, newV, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&oldV, &newV, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, classifyError(err)
		}
		e.OldValues, e.NewValues, e.IP, e.UserAgent = oldV.String, newV.String, ip.String, ua.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
