package models

import "time"

// Roles, from least to most privileged: READER < MANAGER < ADMIN.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleReader  = "READER"
)

// ValidRole reports whether role is one of the three known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleReader
}

// User is an operator account. PasswordHash is never serialized; responses
// involving users must go through a projection that omits it.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
