package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
)

// employeeSortColumns is the explicit allow-list for employee listing sorts.
// Sort parameters never reach SQL unvalidated.
var employeeSortColumns = map[string]string{
	"firstName":  "first_name",
	"lastName":   "last_name",
	"department": "department",
	"createdAt":  "created_at",
}

// EmployeeFilter narrows employee listings.
type EmployeeFilter struct {
	Department    string
	ManagerUserID string
	Sort          string
	Descending    bool
	Offset        int
	Limit         int
}

// CreateEmployee inserts a new employee.
func CreateEmployee(ctx context.Context, q Querier, e *models.Employee) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO employees (id, first_name, last_name, email, department, manager_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FirstName, e.LastName, nullString(e.Email), nullString(e.Department),
		nullString(e.ManagerUserID), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetEmployee fetches one employee by id.
func GetEmployee(ctx context.Context, q Querier, id string) (*models.Employee, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, department, manager_user_id, created_at, updated_at
		 FROM employees WHERE id = ?`, id)
	return scanEmployee(row)
}

// ListEmployees returns employees matching the filter, sorted by the
// allow-listed column (default last name ascending).
func ListEmployees(ctx context.Context, q Querier, f EmployeeFilter) ([]*models.Employee, error) {
	col, ok := employeeSortColumns[f.Sort]
	if f.Sort != "" && !ok {
		return nil, apperr.Validation(apperr.FieldError{Field: "sort", Message: "unsupported sort field"})
	}
	if col == "" {
		col = "last_name"
	}
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}

	query := `SELECT id, first_name, last_name, email, department, manager_user_id, created_at, updated_at
		 FROM employees WHERE 1=1`
	var args []interface{}
	if f.Department != "" {
		query += ` AND department = ?`
		args = append(args, f.Department)
	}
	if f.ManagerUserID != "" {
		query += ` AND manager_user_id = ?`
		args = append(args, f.ManagerUserID)
	}
	offset, limit := ClampPage(f.Offset, f.Limit)
	query += fmt.Sprintf(` ORDER BY %s %s LIMIT ? OFFSET ?`, col, dir)
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var employees []*models.Employee
	for rows.Next() {
		e, err := scanEmployeeRows(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// UpdateEmployee persists mutable employee fields.
func UpdateEmployee(ctx context.Context, q Querier, e *models.Employee) error {
	res, err := q.ExecContext(ctx,
		`UPDATE employees SET first_name = ?, last_name = ?, email = ?, department = ?,
		 manager_user_id = ?, updated_at = ? WHERE id = ?`,
		e.FirstName, e.LastName, nullString(e.Email), nullString(e.Department),
		nullString(e.ManagerUserID), time.Now().UTC(), e.ID)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "employee not found")
}

// DeleteEmployee removes an employee. Employees referenced by any loan,
// soft-deleted loans included, cannot be deleted.
func DeleteEmployee(ctx context.Context, q Querier, id string) error {
	var loans int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE employee_id = ?`, id).Scan(&loans); err != nil {
		return classifyError(err)
	}
	if loans > 0 {
		return apperr.New(apperr.KindConflict, "employee is referenced by existing loans")
	}
	res, err := q.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "employee not found")
}

// EmployeeEmailTaken reports whether another employee already uses email.
// Used for clean conflict messages ahead of the unique constraint.
func EmployeeEmailTaken(ctx context.Context, q Querier, email, excludingID string) (bool, error) {
	if email == "" {
		return false, nil
	}
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM employees WHERE email = ? AND id != ?`, email, excludingID).Scan(&n)
	if err != nil {
		return false, classifyError(err)
	}
	return n > 0, nil
}

func scanEmployee(row *sql.Row) (*models.Employee, error) {
	var e models.Employee
	var email, dept, manager sql.NullString
	err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &email, &dept, &manager, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "employee not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	e.Email, e.Department, e.ManagerUserID = email.String, dept.String, manager.String
	return &e, nil
}

func scanEmployeeRows(rows *sql.Rows) (*models.Employee, error) {
	var e models.Employee
	var email, dept, manager sql.NullString
	if err := rows.Scan(&e.ID, &e.FirstName, &e.LastName, &email, &dept, &manager, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, classifyError(err)
	}
	e.Email, e.Department, e.ManagerUserID = email.String, dept.String, manager.String
	return &e, nil
}
