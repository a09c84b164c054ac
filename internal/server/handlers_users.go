package server

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/auth"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
)

// handleUserList handles GET /api/users (ADMIN).
func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.requireAdmin(w, r) == nil {
		return
	}
	users, err := storage.ListUsers(r.Context(), s.store.DB(),
		queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, users)
}

// handleCurrentUser handles GET /api/users/me.
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := s.identity(w, r)
	if id == nil {
		return
	}
	user, err := storage.GetUserByID(r.Context(), s.store.DB(), id.UserID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// handleChangePassword handles POST /api/users/me/password. A successful
// change invalidates every outstanding session for the account.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id := s.identity(w, r)
	if id == nil {
		return
	}

	var req changePasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if errs := auth.ValidatePassword(req.NewPassword); len(errs) > 0 {
		for i := range errs {
			errs[i].Field = "newPassword"
		}
		WriteErr(w, apperr.Validation(errs...))
		return
	}

	ctx := r.Context()
	user, err := storage.GetUserByID(ctx, s.store.DB(), id.UserID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		WriteErr(w, apperr.New(apperr.KindUnauthorized, "current password is incorrect"))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		WriteErr(w, err)
		return
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := storage.UpdateUserPassword(ctx, tx, user.ID, hash); err != nil {
			return err
		}
		return storage.InsertAuditEntry(ctx, tx, &models.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    id.UserID,
			Action:     models.AuditUpdate,
			EntityType: "user",
			EntityID:   user.ID,
			NewValues:  `{"password":"changed"}`,
			IP:         clientIP(r),
			UserAgent:  r.Header.Get("User-Agent"),
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		WriteErr(w, err)
		return
	}

	if err := s.tokens.InvalidateUser(user.ID); err != nil {
		WriteErr(w, err)
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Password changed, sessions invalidated")
	w.WriteHeader(http.StatusNoContent)
}

type roleUpdateRequest struct {
	Role string `json:"role"`
}

// handleUserRoleUpdate handles PUT /api/users/{id}/role (ADMIN). Admins
// cannot change their own role, which keeps the system from losing its
// last administrator by accident. The target's sessions are invalidated
// so the old role stops working immediately.
func (s *Server) handleUserRoleUpdate(w http.ResponseWriter, r *http.Request, targetID string) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	actor := s.requireAdmin(w, r)
	if actor == nil {
		return
	}
	if targetID == actor.UserID {
		WriteErr(w, apperr.New(apperr.KindConflict, "cannot change your own role"))
		return
	}

	var req roleUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	var check fieldCheck
	role := check.oneOf("role", req.Role, models.RoleAdmin, models.RoleManager, models.RoleReader)
	if err := check.err(); err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	var target *models.User
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		target, err = storage.GetUserByID(ctx, tx, targetID)
		if err != nil {
			return err
		}
		oldRole := target.Role
		if err := storage.UpdateUserRole(ctx, tx, targetID, role); err != nil {
			return err
		}
		target.Role = role
		return storage.InsertAuditEntry(ctx, tx, &models.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    actor.UserID,
			Action:     models.AuditRoleChange,
			EntityType: "user",
			EntityID:   targetID,
			OldValues:  `{"role":"` + oldRole + `"}`,
			NewValues:  `{"role":"` + role + `"}`,
			IP:         clientIP(r),
			UserAgent:  r.Header.Get("User-Agent"),
			CreatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		WriteErr(w, err)
		return
	}

	if err := s.tokens.InvalidateUser(targetID); err != nil {
		WriteErr(w, err)
		return
	}

	s.logger.Info().
		Str("user_id", targetID).
		Str("role", role).
		Str("actor_id", actor.UserID).
		Msg("User role changed")
	WriteData(w, http.StatusOK, target)
}
