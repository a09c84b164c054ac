package models

import "time"

// Employee is a borrower of equipment. ManagerUserID is the owning User for
// the ownership gate; it may be empty for unassigned employees.
type Employee struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email,omitempty"`
	Department    string    `json:"department,omitempty"`
	ManagerUserID string    `json:"managerUserId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
