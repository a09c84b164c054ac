package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
)

// CreateUser inserts a new user account.
func CreateUser(ctx context.Context, q Querier, u *models.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetUserByID fetches one user by id.
func GetUserByID(ctx context.Context, q Querier, id string) (*models.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches one user by email.
func GetUserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at, updated_at
		 FROM users WHERE email = ?`, email))
}

// CountUsers returns the total number of user accounts. The register
// endpoint uses it to promote the first account to ADMIN.
func CountUsers(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, classifyError(err)
	}
	return n, nil
}

// ListUsers returns user accounts ordered by creation time.
func ListUsers(ctx context.Context, q Querier, offset, limit int) ([]*models.User, error) {
	offset, limit = ClampPage(offset, limit)
	rows, err := q.QueryContext(ctx,
		`SELECT id, email, password_hash, role, created_at, updated_at
		 FROM users ORDER BY created_at ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// UpdateUserRole changes a user's role.
func UpdateUserRole(ctx context.Context, q Querier, id, role string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, time.Now().UTC(), id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "user not found")
}

// UpdateUserPassword replaces a user's password hash.
func UpdateUserPassword(ctx context.Context, q Querier, id, hash string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "user not found")
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &u, nil
}

// requireAffected converts a zero-row update into a not-found error.
func requireAffected(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, msg)
	}
	return nil
}

// nullString maps "" to NULL for optionally-unique columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
