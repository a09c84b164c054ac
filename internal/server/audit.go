package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
)

// auditTx writes an audit entry inside the caller's transaction so the
// record commits or rolls back with the mutation it describes.
func (s *Server) auditTx(ctx context.Context, tx *sql.Tx, actorID string, r *http.Request, action, entityType, entityID string, oldV, newV interface{}) error {
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         clientIP(r),
		UserAgent:  r.Header.Get("User-Agent"),
		CreatedAt:  time.Now().UTC(),
	}
	if oldV != nil {
		if data, err := json.Marshal(oldV); err == nil {
			entry.OldValues = string(data)
		}
	}
	if newV != nil {
		if data, err := json.Marshal(newV); err == nil {
			entry.NewValues = string(data)
		}
	}
	return storage.InsertAuditEntry(ctx, tx, entry)
}

// handleAuditList handles GET /api/audit (ADMIN).
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.requireAdmin(w, r) == nil {
		return
	}

	q := r.URL.Query()
	entries, err := storage.ListAuditEntries(r.Context(), s.store.DB(), models.AuditFilter{
		ActorID:    q.Get("actorId"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, entries)
}
