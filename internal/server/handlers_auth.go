package server

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/auth"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
)

// refreshCookieName is the HTTP-only cookie carrying the refresh token.
// Host-only (no Domain), SameSite=Strict, never visible to script.
const refreshCookieName = "refreshToken"

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api/auth",
		MaxAge:   int(s.tokens.RefreshExpiry().Seconds()),
		HttpOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

// sessionResponse carries the access token in the body. The refresh token
// travels only in the cookie.
type sessionResponse struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int          `json:"expiresIn"`
}

func (s *Server) writeSession(w http.ResponseWriter, status int, user *models.User, pair *auth.TokenPair) {
	s.setRefreshCookie(w, pair.RefreshToken)
	WriteData(w, status, sessionResponse{
		User:        user,
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleAuthRegister handles POST /api/auth/register. The very first
// account becomes ADMIN so a fresh install can be bootstrapped; everyone
// after that starts as MANAGER. Registration opens a session straight away.
func (s *Server) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req registerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var check fieldCheck
	email := check.email("email", req.Email, true)
	check.add(auth.ValidatePassword(req.Password)...)
	if err := check.err(); err != nil {
		WriteErr(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	var user *models.User
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		count, err := storage.CountUsers(ctx, tx)
		if err != nil {
			return err
		}
		role := models.RoleManager
		if count == 0 {
			role = models.RoleAdmin
		}

		now := time.Now().UTC()
		user = &models.User{
			ID:           uuid.New().String(),
			Email:        email,
			PasswordHash: hash,
			Role:         role,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := storage.CreateUser(ctx, tx, user); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				return apperr.New(apperr.KindConflict, "email is already registered")
			}
			return err
		}
		return storage.InsertAuditEntry(ctx, tx, &models.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    user.ID,
			Action:     models.AuditCreate,
			EntityType: "user",
			EntityID:   user.ID,
			IP:         clientIP(r),
			UserAgent:  r.Header.Get("User-Agent"),
			CreatedAt:  now,
		})
	})
	if err != nil {
		WriteErr(w, err)
		return
	}

	tokens, err := s.tokens.IssuePair(user)
	if err != nil {
		WriteErr(w, err)
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User registered")
	s.writeSession(w, http.StatusCreated, user, tokens)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleAuthLogin handles POST /api/auth/login. Unknown email and wrong
// password produce the same response; there is no account oracle here.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var check fieldCheck
	email := check.email("email", req.Email, true)
	check.require("password", req.Password)
	if err := check.err(); err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	user, err := storage.GetUserByEmail(ctx, s.store.DB(), email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		// Burn comparable time on the miss so timing does not leak
		// account existence.
		if err != nil {
			auth.CheckPassword("$2a$10$0000000000000000000000uFQW/XBvPdYIrO79m20QszmVJXoTCqe", req.Password)
		}
		WriteErr(w, apperr.New(apperr.KindUnauthorized, "invalid email or password"))
		return
	}

	tokens, err := s.tokens.IssuePair(user)
	if err != nil {
		WriteErr(w, err)
		return
	}

	if err := s.auditDirect(ctx, user.ID, r, models.AuditLogin, "user", user.ID); err != nil {
		WriteErr(w, err)
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User logged in")
	s.writeSession(w, http.StatusOK, user, tokens)
}

// handleAuthRefresh handles POST /api/auth/refresh. The refresh token comes
// from the cookie and is single use: the presented token is revoked before
// its replacement is issued, so a replayed cookie dies with 401.
func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		WriteErr(w, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}

	identity, err := s.tokens.VerifyRefresh(cookie.Value)
	if err != nil {
		s.clearRefreshCookie(w)
		WriteErr(w, err)
		return
	}

	// Role and existence come from the store, not the old token, so a
	// role change takes effect on the next refresh at the latest.
	user, err := storage.GetUserByID(r.Context(), s.store.DB(), identity.UserID)
	if err != nil {
		s.clearRefreshCookie(w)
		WriteErr(w, apperr.New(apperr.KindUnauthorized, "invalid or expired token"))
		return
	}

	if err := s.tokens.Revoke(cookie.Value); err != nil {
		WriteErr(w, err)
		return
	}

	tokens, err := s.tokens.IssuePair(user)
	if err != nil {
		WriteErr(w, err)
		return
	}
	s.writeSession(w, http.StatusOK, user, tokens)
}

// handleAuthLogout handles POST /api/auth/logout. The presented access
// token and the refresh cookie are revoked for the remainder of their
// lifetimes, and the cookie is cleared.
func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id := s.identity(w, r)
	if id == nil {
		return
	}

	accessToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.tokens.Revoke(accessToken); err != nil {
		WriteErr(w, err)
		return
	}

	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := s.tokens.Revoke(cookie.Value); err != nil {
			WriteErr(w, err)
			return
		}
	}
	s.clearRefreshCookie(w)

	if err := s.auditDirect(r.Context(), id.UserID, r, models.AuditLogout, "user", id.UserID); err != nil {
		WriteErr(w, err)
		return
	}

	s.logger.Info().Str("user_id", id.UserID).Msg("User logged out")
	w.WriteHeader(http.StatusNoContent)
}

// auditDirect writes a standalone audit entry for auth events that have no
// surrounding data mutation.
func (s *Server) auditDirect(ctx context.Context, actorID string, r *http.Request, action, entityType, entityID string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return storage.InsertAuditEntry(ctx, tx, &models.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    actorID,
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			IP:         clientIP(r),
			UserAgent:  r.Header.Get("User-Agent"),
			CreatedAt:  time.Now().UTC(),
		})
	})
}
