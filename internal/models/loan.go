package models

import "time"

// Loan statuses.
const (
	LoanOpen   = "OPEN"
	LoanClosed = "CLOSED"
)

// Loan is a signed, auditable lending transaction for one employee.
// Soft-deleted loans keep their rows (DeletedAt set) and disappear from
// default listings.
type Loan struct {
	ID                 string     `json:"id"`
	EmployeeID         string     `json:"employeeId"`
	Status             string     `json:"status"`
	OpenedAt           time.Time  `json:"openedAt"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	PickupSignatureURL string     `json:"pickupSignatureUrl,omitempty"`
	PickupSignedAt     *time.Time `json:"pickupSignedAt,omitempty"`
	ReturnSignatureURL string     `json:"returnSignatureUrl,omitempty"`
	ReturnSignedAt     *time.Time `json:"returnSignedAt,omitempty"`
	CreatedByID        string     `json:"createdById"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
	DeletedByID        string     `json:"deletedById,omitempty"`
	Lines              []LoanLine `json:"lines,omitempty"`
}

// LoanLine is one row of a loan: exactly one of AssetItemID or
// (StockItemID, Quantity >= 1) is set. The shape is enforced at creation
// and backed by a CHECK constraint.
type LoanLine struct {
	ID          string    `json:"id"`
	LoanID      string    `json:"loanId"`
	AssetItemID string    `json:"assetItemId,omitempty"`
	StockItemID string    `json:"stockItemId,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
}

// IsAsset reports whether the line references a tracked asset item.
func (l *LoanLine) IsAsset() bool {
	return l.AssetItemID != ""
}

// LineSpec is the inbound shape for creating a loan line: either an asset
// item id, or an asset model id with a quantity drawn from consumable stock.
type LineSpec struct {
	AssetItemID  string `json:"assetItemId,omitempty"`
	AssetModelID string `json:"assetModelId,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
}
