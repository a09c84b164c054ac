package server

import (
	"net/http"

	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/models"
)

// identity extracts the verified caller. The session gate guarantees it is
// present on every non-public route; a nil here is a programming error and
// surfaces as 401, never as a panic.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) *common.Identity {
	id := common.IdentityFrom(r.Context())
	if id == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	return id
}

// requireRole is the role gate: the caller must hold one of the listed
// roles. Writes 403 and returns nil on failure.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) *common.Identity {
	id := s.identity(w, r)
	if id == nil {
		return nil
	}
	for _, role := range roles {
		if id.Role == role {
			return id
		}
	}
	WriteError(w, http.StatusForbidden, "insufficient role")
	return nil
}

// requireAdmin allows ADMIN only.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) *common.Identity {
	return s.requireRole(w, r, models.RoleAdmin)
}

// requireManager allows MANAGER and ADMIN.
func (s *Server) requireManager(w http.ResponseWriter, r *http.Request) *common.Identity {
	return s.requireRole(w, r, models.RoleManager, models.RoleAdmin)
}
