package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "depot.db"), common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, email, role string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "x",
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, CreateUser(context.Background(), s.DB(), u))
	return u
}

func seedEmployee(t *testing.T, s *Store, first, last string) *models.Employee {
	t.Helper()
	now := time.Now().UTC()
	e := &models.Employee{
		ID:        uuid.New().String(),
		FirstName: first,
		LastName:  last,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, CreateEmployee(context.Background(), s.DB(), e))
	return e
}

func seedModel(t *testing.T, s *Store) *models.AssetModel {
	t.Helper()
	now := time.Now().UTC()
	m := &models.AssetModel{
		ID:        uuid.New().String(),
		Type:      "LAPTOP",
		Brand:     "Lenovo",
		ModelName: "T14",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, CreateAssetModel(context.Background(), s.DB(), m))
	return m
}

func seedAssetItem(t *testing.T, s *Store, modelID string) *models.AssetItem {
	t.Helper()
	now := time.Now().UTC()
	a := &models.AssetItem{
		ID:           uuid.New().String(),
		AssetModelID: modelID,
		AssetTag:     "TAG-" + uuid.New().String()[:8],
		Status:       models.AssetInStock,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, CreateAssetItem(context.Background(), s.DB(), a))
	return a
}

func seedStock(t *testing.T, s *Store, modelID string, qty int) *models.StockItem {
	t.Helper()
	now := time.Now().UTC()
	st := &models.StockItem{
		ID:           uuid.New().String(),
		AssetModelID: modelID,
		Quantity:     qty,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, CreateStockItem(context.Background(), s.DB(), st))
	return st
}

func TestUserUniqueEmail(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "dup@example.com", models.RoleReader)

	now := time.Now().UTC()
	err := CreateUser(context.Background(), s.DB(), &models.User{
		ID: uuid.New().String(), Email: "dup@example.com", PasswordHash: "x",
		Role: models.RoleReader, CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := GetUserByEmail(context.Background(), s.DB(), "ghost@example.com")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCountUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := CountUsers(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seedUser(t, s, "one@example.com", models.RoleAdmin)
	n, err = CountUsers(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListEmployeesRejectsUnknownSort(t *testing.T) {
	s := newTestStore(t)
	_, err := ListEmployees(context.Background(), s.DB(), EmployeeFilter{Sort: "password; DROP TABLE users"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestListEmployeesSorted(t *testing.T) {
	s := newTestStore(t)
	seedEmployee(t, s, "Zoe", "Young")
	seedEmployee(t, s, "Amy", "Abbot")

	employees, err := ListEmployees(context.Background(), s.DB(), EmployeeFilter{Sort: "lastName"})
	require.NoError(t, err)
	require.Len(t, employees, 2)
	assert.Equal(t, "Abbot", employees[0].LastName)
}

func TestDeleteEmployeeWithLoansConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "mgr@example.com", models.RoleManager)
	emp := seedEmployee(t, s, "Bob", "Brown")

	require.NoError(t, InsertLoan(ctx, s.DB(), &models.Loan{
		ID: uuid.New().String(), EmployeeID: emp.ID, Status: models.LoanOpen,
		OpenedAt: time.Now().UTC(), CreatedByID: user.ID,
	}))

	err := DeleteEmployee(ctx, s.DB(), emp.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSetAssetItemStatusGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedModel(t, s)
	item := seedAssetItem(t, s, m.ID)

	require.NoError(t, SetAssetItemStatus(ctx, s.DB(), item.ID, models.AssetInStock, models.AssetLent))

	// A second reservation of the same item must fail: it is no longer IN_STOCK.
	err := SetAssetItemStatus(ctx, s.DB(), item.ID, models.AssetInStock, models.AssetLent)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := GetAssetItem(ctx, s.DB(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetLent, got.Status)
}

func TestAdjustStockLoanedBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedModel(t, s)
	st := seedStock(t, s, m.ID, 3)

	require.NoError(t, AdjustStockLoaned(ctx, s.DB(), st.ID, 3))

	err := AdjustStockLoaned(ctx, s.DB(), st.ID, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Releasing below zero is equally rejected.
	err = AdjustStockLoaned(ctx, s.DB(), st.ID, -4)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := GetStockItem(ctx, s.DB(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Loaned)
	assert.Equal(t, 0, got.Available())
}

func TestUpdateStockQuantityBelowLoanedTripsCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedModel(t, s)
	st := seedStock(t, s, m.ID, 5)
	require.NoError(t, AdjustStockLoaned(ctx, s.DB(), st.ID, 4))

	err := UpdateStockQuantity(ctx, s.DB(), st.ID, 2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLoanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "mgr2@example.com", models.RoleManager)
	emp := seedEmployee(t, s, "Cara", "Cole")
	m := seedModel(t, s)
	item := seedAssetItem(t, s, m.ID)

	l := &models.Loan{
		ID: uuid.New().String(), EmployeeID: emp.ID, Status: models.LoanOpen,
		OpenedAt: time.Now().UTC(), CreatedByID: user.ID,
	}
	require.NoError(t, InsertLoan(ctx, s.DB(), l))
	require.NoError(t, InsertLoanLine(ctx, s.DB(), &models.LoanLine{
		ID: uuid.New().String(), LoanID: l.ID, AssetItemID: item.ID, AddedAt: time.Now().UTC(),
	}))

	got, err := GetLoan(ctx, s.DB(), l.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].IsAsset())

	n, err := CountOpenLinesForAsset(ctx, s.DB(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoanLineShapeCheckConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "mgr3@example.com", models.RoleManager)
	emp := seedEmployee(t, s, "Dan", "Dunn")

	l := &models.Loan{
		ID: uuid.New().String(), EmployeeID: emp.ID, Status: models.LoanOpen,
		OpenedAt: time.Now().UTC(), CreatedByID: user.ID,
	}
	require.NoError(t, InsertLoan(ctx, s.DB(), l))

	// Neither asset nor stock set: the CHECK constraint rejects the shape.
	err := InsertLoanLine(ctx, s.DB(), &models.LoanLine{
		ID: uuid.New().String(), LoanID: l.ID, AddedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCloseLoanOnlyWhenOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "mgr4@example.com", models.RoleManager)
	emp := seedEmployee(t, s, "Eve", "Ellis")

	l := &models.Loan{
		ID: uuid.New().String(), EmployeeID: emp.ID, Status: models.LoanOpen,
		OpenedAt: time.Now().UTC(), CreatedByID: user.ID,
	}
	require.NoError(t, InsertLoan(ctx, s.DB(), l))
	require.NoError(t, CloseLoan(ctx, s.DB(), l.ID, time.Now().UTC()))

	err := CloseLoan(ctx, s.DB(), l.ID, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSoftDeleteHidesFromDefaultListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "admin@example.com", models.RoleAdmin)
	emp := seedEmployee(t, s, "Fay", "Ford")

	l := &models.Loan{
		ID: uuid.New().String(), EmployeeID: emp.ID, Status: models.LoanOpen,
		OpenedAt: time.Now().UTC(), CreatedByID: user.ID,
	}
	require.NoError(t, InsertLoan(ctx, s.DB(), l))
	require.NoError(t, SoftDeleteLoan(ctx, s.DB(), l.ID, user.ID, time.Now().UTC()))

	visible, err := ListLoans(ctx, s.DB(), LoanFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := ListLoans(ctx, s.DB(), LoanFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].DeletedAt)

	// The row itself survives for the audit trail.
	got, err := GetLoan(ctx, s.DB(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.DeletedByID)
}

func TestAuditEntriesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com", models.RoleAdmin)

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, InsertAuditEntry(ctx, s.DB(), &models.AuditEntry{
			ID: uuid.New().String(), ActorID: user.ID, Action: models.AuditUpdate,
			EntityType: "loan", EntityID: "l1", CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := ListAuditEntries(ctx, s.DB(), models.AuditFilter{EntityType: "loan"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].CreatedAt.After(entries[2].CreatedAt))
}

func TestClampPage(t *testing.T) {
	offset, limit := ClampPage(-5, 0)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 50, limit)

	_, limit = ClampPage(0, 10000)
	assert.Equal(t, MaxPageSize, limit)
}
