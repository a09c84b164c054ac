package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
)

// LoanFilter narrows loan listings. Soft-deleted loans are hidden unless
// IncludeDeleted is set (ADMIN only, enforced by the handler).
type LoanFilter struct {
	EmployeeID     string
	CreatedByID    string
	Status         string
	IncludeDeleted bool
	Offset         int
	Limit          int
}

// InsertLoan inserts a new loan row.
func InsertLoan(ctx context.Context, q Querier, l *models.Loan) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO loans (id, employee_id, status, opened_at, created_by_id)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.EmployeeID, l.Status, l.OpenedAt, l.CreatedByID)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetLoan fetches one loan with its lines. Soft-deleted loans are returned;
// visibility is the caller's decision.
func GetLoan(ctx context.Context, q Querier, id string) (*models.Loan, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, employee_id, status, opened_at, closed_at,
		       pickup_signature_url, pickup_signed_at,
		       return_signature_url, return_signed_at,
		       created_by_id, deleted_at, deleted_by_id
		FROM loans WHERE id = ?`, id)

	l, err := scanLoan(row)
	if err != nil {
		return nil, err
	}
	lines, err := GetLoanLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	l.Lines = lines
	return l, nil
}

// ListLoans returns loans matching the filter, newest first.
func ListLoans(ctx context.Context, q Querier, f LoanFilter) ([]*models.Loan, error) {
	query := `
		SELECT id, employee_id, status, opened_at, closed_at,
		       pickup_signature_url, pickup_signed_at,
		       return_signature_url, return_signed_at,
		       created_by_id, deleted_at, deleted_by_id
		FROM loans WHERE 1=1`
	var args []interface{}
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if f.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	if f.CreatedByID != "" {
		query += ` AND created_by_id = ?`
		args = append(args, f.CreatedByID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	offset, limit := ClampPage(f.Offset, f.Limit)
	query += ` ORDER BY opened_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		l, err := scanLoanRows(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// InsertLoanLine inserts a loan line. The asset-xor-stock shape is validated
// by the engine before it gets here and backstopped by the CHECK constraint.
func InsertLoanLine(ctx context.Context, q Querier, line *models.LoanLine) error {
	var qty sql.NullInt64
	if line.StockItemID != "" {
		qty = sql.NullInt64{Int64: int64(line.Quantity), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO loan_lines (id, loan_id, asset_item_id, stock_item_id, quantity, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		line.ID, line.LoanID, nullString(line.AssetItemID), nullString(line.StockItemID),
		qty, line.AddedAt)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// GetLoanLine fetches one line by loan and line id.
func GetLoanLine(ctx context.Context, q Querier, loanID, lineID string) (*models.LoanLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, loan_id, asset_item_id, stock_item_id, quantity, added_at
		 FROM loan_lines WHERE loan_id = ? AND id = ?`, loanID, lineID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classifyError(err)
		}
		return nil, apperr.New(apperr.KindNotFound, "loan line not found")
	}
	return scanLoanLine(rows)
}

// GetLoanLines returns all lines of a loan in insertion order.
func GetLoanLines(ctx context.Context, q Querier, loanID string) ([]models.LoanLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, loan_id, asset_item_id, stock_item_id, quantity, added_at
		 FROM loan_lines WHERE loan_id = ? ORDER BY added_at ASC, id ASC`, loanID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var lines []models.LoanLine
	for rows.Next() {
		line, err := scanLoanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

// DeleteLoanLine removes one line.
func DeleteLoanLine(ctx context.Context, q Querier, loanID, lineID string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM loan_lines WHERE loan_id = ? AND id = ?`, loanID, lineID)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "loan line not found")
}

// CountOpenLinesForAsset counts OPEN, non-deleted loan lines referencing an
// asset item. Invariant checks and tests use it.
func CountOpenLinesForAsset(ctx context.Context, q Querier, assetItemID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loan_lines ll
		JOIN loans l ON l.id = ll.loan_id
		WHERE ll.asset_item_id = ? AND l.status = 'OPEN' AND l.deleted_at IS NULL`,
		assetItemID).Scan(&n)
	if err != nil {
		return 0, classifyError(err)
	}
	return n, nil
}

// SetLoanSignature stores a signature reference. Kind is "pickup" or
// "return"; the engine validates state before calling.
func SetLoanSignature(ctx context.Context, q Querier, loanID, kind, url string, signedAt time.Time) error {
	var query string
	switch kind {
	case "pickup":
		query = `UPDATE loans SET pickup_signature_url = ?, pickup_signed_at = ? WHERE id = ?`
	case "return":
		query = `UPDATE loans SET return_signature_url = ?, return_signed_at = ? WHERE id = ?`
	default:
		return apperr.Newf(apperr.KindInternal, "unknown signature kind %q", kind)
	}
	res, err := q.ExecContext(ctx, query, url, signedAt, loanID)
	if err != nil {
		return classifyError(err)
	}
	return requireAffected(res, "loan not found")
}

// CloseLoan transitions an OPEN loan to CLOSED. The status guard makes the
// transition race-safe; a zero-row update means the loan was not OPEN.
func CloseLoan(ctx context.Context, q Querier, loanID string, closedAt time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE loans SET status = 'CLOSED', closed_at = ? WHERE id = ? AND status = 'OPEN' AND deleted_at IS NULL`,
		closedAt, loanID)
	if err != nil {
		return classifyError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, "loan is not open")
	}
	return nil
}

// SoftDeleteLoan marks a loan deleted. Reversal of line effects is the
// engine's responsibility, inside the same transaction.
func SoftDeleteLoan(ctx context.Context, q Querier, loanID, deletedByID string, deletedAt time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE loans SET deleted_at = ?, deleted_by_id = ? WHERE id = ? AND deleted_at IS NULL`,
		deletedAt, deletedByID, loanID)
	if err != nil {
		return classifyError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, "loan already deleted")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoanFrom(sc rowScanner) (*models.Loan, error) {
	var l models.Loan
	var closedAt, pickupAt, returnAt, deletedAt sql.NullTime
	var pickupURL, returnURL, deletedBy sql.NullString
	err := sc.Scan(&l.ID, &l.EmployeeID, &l.Status, &l.OpenedAt, &closedAt,
		&pickupURL, &pickupAt, &returnURL, &returnAt,
		&l.CreatedByID, &deletedAt, &deletedBy)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		l.ClosedAt = &closedAt.Time
	}
	l.PickupSignatureURL = pickupURL.String
	if pickupAt.Valid {
		l.PickupSignedAt = &pickupAt.Time
	}
	l.ReturnSignatureURL = returnURL.String
	if returnAt.Valid {
		l.ReturnSignedAt = &returnAt.Time
	}
	if deletedAt.Valid {
		l.DeletedAt = &deletedAt.Time
	}
	l.DeletedByID = deletedBy.String
	return &l, nil
}

func scanLoan(row *sql.Row) (*models.Loan, error) {
	l, err := scanLoanFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "loan not found")
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return l, nil
}

func scanLoanRows(rows *sql.Rows) (*models.Loan, error) {
	l, err := scanLoanFrom(rows)
	if err != nil {
		return nil, classifyError(err)
	}
	return l, nil
}

func scanLoanLine(rows *sql.Rows) (*models.LoanLine, error) {
	var line models.LoanLine
	var assetID, stockID sql.NullString
	var qty sql.NullInt64
	if err := rows.Scan(&line.ID, &line.LoanID, &assetID, &stockID, &qty, &line.AddedAt); err != nil {
		return nil, classifyError(err)
	}
	line.AssetItemID, line.StockItemID = assetID.String, stockID.String
	line.Quantity = int(qty.Int64)
	return &line, nil
}
