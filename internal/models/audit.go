package models

import "time"

// Audit actions.
const (
	AuditCreate       = "CREATE"
	AuditUpdate       = "UPDATE"
	AuditDelete       = "DELETE"
	AuditLogin        = "LOGIN"
	AuditLogout       = "LOGOUT"
	AuditRoleChange   = "ROLE_CHANGE"
	AuditRoleOverride = "ROLE_OVERRIDE"
)

// AuditEntry is one append-only record of a privileged mutation. Entries are
// written in the same transaction as the mutation they describe.
type AuditEntry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	OldValues  string    `json:"oldValues,omitempty"`
	NewValues  string    `json:"newValues,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AuditFilter narrows audit listings. Zero values mean "no filter".
type AuditFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}
