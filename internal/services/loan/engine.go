// Package loan implements the loan lifecycle: creation with stock
// reservation, line management, pickup/return signatures, close, and
// soft delete. Every mutation runs in a single serializable transaction
// together with its audit record, so stock counts, asset statuses, and
// the audit trail can never drift apart.
package loan

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
	"github.com/bobmcallan/depot/internal/storage/sigstore"
)

// MaxLinesPerLoan caps the number of lines accepted in one request.
const MaxLinesPerLoan = 100

// Meta carries request attribution recorded on audit entries.
type Meta struct {
	IP        string
	UserAgent string
}

// Signature is an inbound signature payload.
type Signature struct {
	Data   []byte
	Format string
}

// Engine coordinates loan mutations over the store and signature blobs.
type Engine struct {
	store  *storage.Store
	sigs   *sigstore.Store
	logger *common.Logger
}

// NewEngine builds the loan engine.
func NewEngine(store *storage.Store, sigs *sigstore.Store, logger *common.Logger) *Engine {
	return &Engine{store: store, sigs: sigs, logger: logger}
}

// Create opens a loan for an employee with one or more lines. Asset lines
// move the item IN_STOCK -> LENT; stock lines reserve quantity against the
// model's stock pool. Everything, audit entry included, commits atomically
// or not at all.
func (e *Engine) Create(ctx context.Context, actor *common.Identity, meta Meta, employeeID string, specs []models.LineSpec) (*models.Loan, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err := e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		if _, err := storage.GetEmployee(ctx, tx, employeeID); err != nil {
			return err
		}

		now := time.Now().UTC()
		loan = &models.Loan{
			ID:          uuid.New().String(),
			EmployeeID:  employeeID,
			Status:      models.LoanOpen,
			OpenedAt:    now,
			CreatedByID: actor.UserID,
		}
		if err := storage.InsertLoan(ctx, tx, loan); err != nil {
			return err
		}

		for _, spec := range specs {
			line, err := e.reserveLine(ctx, tx, loan.ID, spec, now)
			if err != nil {
				return err
			}
			loan.Lines = append(loan.Lines, *line)
		}

		return e.audit(ctx, tx, actor, meta, models.AuditCreate, "loan", loan.ID, nil, loan)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("loan_id", loan.ID).
		Str("employee_id", employeeID).
		Int("lines", len(loan.Lines)).
		Msg("Loan created")
	return loan, nil
}

// AddLine appends a line to an open loan, reserving its stock or asset.
func (e *Engine) AddLine(ctx context.Context, actor *common.Identity, meta Meta, loanID string, spec models.LineSpec) (*models.Loan, error) {
	if err := validateSpecs([]models.LineSpec{spec}); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err := e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := e.openLoanForWrite(ctx, tx, actor, meta, loanID)
		if err != nil {
			return err
		}
		if len(before.Lines) >= MaxLinesPerLoan {
			return apperr.New(apperr.KindConflict, "loan has reached the maximum number of lines")
		}

		if _, err := e.reserveLine(ctx, tx, loanID, spec, time.Now().UTC()); err != nil {
			return err
		}

		loan, err = storage.GetLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		return e.audit(ctx, tx, actor, meta, models.AuditUpdate, "loan", loanID, before, loan)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// RemoveLine deletes a line from an open loan, releasing its reservation.
func (e *Engine) RemoveLine(ctx context.Context, actor *common.Identity, meta Meta, loanID, lineID string) (*models.Loan, error) {
	var loan *models.Loan
	err := e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := e.openLoanForWrite(ctx, tx, actor, meta, loanID)
		if err != nil {
			return err
		}

		line, err := storage.GetLoanLine(ctx, tx, loanID, lineID)
		if err != nil {
			return err
		}
		if err := e.releaseLine(ctx, tx, line); err != nil {
			return err
		}
		if err := storage.DeleteLoanLine(ctx, tx, loanID, lineID); err != nil {
			return err
		}

		loan, err = storage.GetLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		return e.audit(ctx, tx, actor, meta, models.AuditUpdate, "loan", loanID, before, loan)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// SignPickup stores the pickup signature on an open loan. Signing twice
// is a conflict unless an ADMIN overrides, which is audited separately.
func (e *Engine) SignPickup(ctx context.Context, actor *common.Identity, meta Meta, loanID string, sig Signature) (*models.Loan, error) {
	return e.sign(ctx, actor, meta, loanID, sig, "pickup")
}

// SignReturn stores the return signature. The pickup signature must exist
// first; returns cannot precede pickups.
func (e *Engine) SignReturn(ctx context.Context, actor *common.Identity, meta Meta, loanID string, sig Signature) (*models.Loan, error) {
	return e.sign(ctx, actor, meta, loanID, sig, "return")
}

func (e *Engine) sign(ctx context.Context, actor *common.Identity, meta Meta, loanID string, sig Signature, kind string) (*models.Loan, error) {
	ref, err := e.sigs.Save(sig.Data, sig.Format)
	if err != nil {
		return nil, err
	}

	var loan *models.Loan
	err = e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := e.openLoanForWrite(ctx, tx, actor, meta, loanID)
		if err != nil {
			return err
		}

		override := false
		switch kind {
		case "pickup":
			if before.PickupSignedAt != nil {
				if actor.Role != models.RoleAdmin {
					return apperr.New(apperr.KindConflict, "pickup already signed")
				}
				override = true
			}
		case "return":
			if before.PickupSignedAt == nil {
				return apperr.New(apperr.KindConflict, "pickup must be signed before return")
			}
			if before.ReturnSignedAt != nil {
				if actor.Role != models.RoleAdmin {
					return apperr.New(apperr.KindConflict, "return already signed")
				}
				override = true
			}
		}
		if override {
			if err := e.audit(ctx, tx, actor, meta, models.AuditRoleOverride, "loan", loanID, nil, nil); err != nil {
				return err
			}
		}

		if err := storage.SetLoanSignature(ctx, tx, loanID, kind, ref, time.Now().UTC()); err != nil {
			return err
		}

		loan, err = storage.GetLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		return e.audit(ctx, tx, actor, meta, models.AuditUpdate, "loan", loanID, before, loan)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Close transitions an open loan to CLOSED. Both signatures and at least
// one line are required; all reservations are released, assets return
// to IN_STOCK.
func (e *Engine) Close(ctx context.Context, actor *common.Identity, meta Meta, loanID string) (*models.Loan, error) {
	var loan *models.Loan
	err := e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := e.openLoanForWrite(ctx, tx, actor, meta, loanID)
		if err != nil {
			return err
		}
		if len(before.Lines) == 0 {
			return apperr.New(apperr.KindConflict, "loan has no lines")
		}
		if before.PickupSignedAt == nil || before.ReturnSignedAt == nil {
			return apperr.New(apperr.KindConflict, "loan requires pickup and return signatures before closing")
		}

		for i := range before.Lines {
			if err := e.releaseLine(ctx, tx, &before.Lines[i]); err != nil {
				return err
			}
		}
		if err := storage.CloseLoan(ctx, tx, loanID, time.Now().UTC()); err != nil {
			return err
		}

		loan, err = storage.GetLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		return e.audit(ctx, tx, actor, meta, models.AuditUpdate, "loan", loanID, before, loan)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("loan_id", loanID).Msg("Loan closed")
	return loan, nil
}

// SoftDelete marks a loan deleted while retaining its rows for the audit
// history. Allowed for the creator or an ADMIN, on OPEN and CLOSED loans
// alike. Deleting a still-open loan releases its reservations first;
// closed loans released them at close time.
func (e *Engine) SoftDelete(ctx context.Context, actor *common.Identity, meta Meta, loanID string) error {
	err := e.store.WithTxRetry(ctx, func(tx *sql.Tx) error {
		before, err := e.loanForWrite(ctx, tx, actor, meta, loanID)
		if err != nil {
			return err
		}

		if before.Status == models.LoanOpen {
			for i := range before.Lines {
				if err := e.releaseLine(ctx, tx, &before.Lines[i]); err != nil {
					return err
				}
			}
		}
		if err := storage.SoftDeleteLoan(ctx, tx, loanID, actor.UserID, time.Now().UTC()); err != nil {
			return err
		}
		return e.audit(ctx, tx, actor, meta, models.AuditDelete, "loan", loanID, before, nil)
	})
	if err != nil {
		return err
	}

	e.logger.Info().Str("loan_id", loanID).Msg("Loan soft-deleted")
	return nil
}

// openLoanForWrite loads a loan and authorizes the mutation: the loan
// must be OPEN and not deleted, and the actor must be its creator or an
// ADMIN. An ADMIN touching someone else's loan gets a ROLE_OVERRIDE
// audit entry alongside the mutation's own record. Non-admins get the
// same generic denial for missing, deleted, and foreign loans, so the
// operation is not an existence oracle.
func (e *Engine) openLoanForWrite(ctx context.Context, tx *sql.Tx, actor *common.Identity, meta Meta, loanID string) (*models.Loan, error) {
	loan, err := e.loanForWrite(ctx, tx, actor, meta, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanOpen {
		return nil, apperr.New(apperr.KindConflict, "loan is not open")
	}
	return loan, nil
}

func (e *Engine) loanForWrite(ctx context.Context, tx *sql.Tx, actor *common.Identity, meta Meta, loanID string) (*models.Loan, error) {
	admin := actor.Role == models.RoleAdmin

	loan, err := storage.GetLoan(ctx, tx, loanID)
	if err != nil {
		if !admin && apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindForbidden, "insufficient permission")
		}
		return nil, err
	}
	if loan.DeletedAt != nil {
		if !admin {
			return nil, apperr.New(apperr.KindForbidden, "insufficient permission")
		}
		return nil, apperr.New(apperr.KindNotFound, "loan not found")
	}

	if loan.CreatedByID != actor.UserID {
		if !admin {
			return nil, apperr.New(apperr.KindForbidden, "insufficient permission")
		}
		if err := e.audit(ctx, tx, actor, meta, models.AuditRoleOverride, "loan", loanID, nil, nil); err != nil {
			return nil, err
		}
	}
	return loan, nil
}

// reserveLine applies a line spec: a tracked asset moves to LENT, a stock
// draw bumps the model's loaned count. Returns the inserted line.
func (e *Engine) reserveLine(ctx context.Context, tx *sql.Tx, loanID string, spec models.LineSpec, now time.Time) (*models.LoanLine, error) {
	line := &models.LoanLine{
		ID:      uuid.New().String(),
		LoanID:  loanID,
		AddedAt: now,
	}

	if spec.AssetItemID != "" {
		if err := storage.SetAssetItemStatus(ctx, tx, spec.AssetItemID, models.AssetInStock, models.AssetLent); err != nil {
			return nil, err
		}
		line.AssetItemID = spec.AssetItemID
	} else {
		stock, err := storage.GetStockItemByModel(ctx, tx, spec.AssetModelID)
		if err != nil {
			return nil, err
		}
		if err := storage.AdjustStockLoaned(ctx, tx, stock.ID, spec.Quantity); err != nil {
			return nil, err
		}
		line.StockItemID = stock.ID
		line.Quantity = spec.Quantity
	}

	if err := storage.InsertLoanLine(ctx, tx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// releaseLine reverses a line's reservation.
func (e *Engine) releaseLine(ctx context.Context, tx *sql.Tx, line *models.LoanLine) error {
	if line.IsAsset() {
		return storage.SetAssetItemStatus(ctx, tx, line.AssetItemID, models.AssetLent, models.AssetInStock)
	}
	return storage.AdjustStockLoaned(ctx, tx, line.StockItemID, -line.Quantity)
}

// audit writes an audit entry inside the mutation's transaction.
func (e *Engine) audit(ctx context.Context, tx *sql.Tx, actor *common.Identity, meta Meta, action, entityType, entityID string, oldV, newV interface{}) error {
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
	if oldV != nil {
		entry.OldValues = marshalValues(oldV)
	}
	if newV != nil {
		entry.NewValues = marshalValues(newV)
	}
	return storage.InsertAuditEntry(ctx, tx, entry)
}

func marshalValues(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// validateSpecs checks the asset-xor-stock shape of every line spec and
// collects all violations into one validation error. An empty set is
// valid: a loan can start empty and gain lines later, it just cannot
// close that way.
func validateSpecs(specs []models.LineSpec) error {
	if len(specs) > MaxLinesPerLoan {
		return apperr.Validation(apperr.FieldError{Field: "lines", Message: "too many lines"})
	}

	var errs []apperr.FieldError
	for i, spec := range specs {
		hasAsset := spec.AssetItemID != ""
		hasStock := spec.AssetModelID != ""
		switch {
		case hasAsset && hasStock:
			errs = append(errs, apperr.FieldError{Field: lineField(i), Message: "must reference an asset item or an asset model, not both"})
		case !hasAsset && !hasStock:
			errs = append(errs, apperr.FieldError{Field: lineField(i), Message: "must reference an asset item or an asset model"})
		case hasAsset && spec.Quantity != 0:
			errs = append(errs, apperr.FieldError{Field: lineField(i), Message: "asset lines do not take a quantity"})
		case hasStock && spec.Quantity < 1:
			errs = append(errs, apperr.FieldError{Field: lineField(i), Message: "stock lines require a quantity of at least 1"})
		}
	}
	if len(errs) > 0 {
		return apperr.Validation(errs...)
	}
	return nil
}

func lineField(i int) string {
	return "lines[" + strconv.Itoa(i) + "]"
}
