package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/services/loan"
	"github.com/bobmcallan/depot/internal/storage"
)

type createLoanRequest struct {
	EmployeeID string            `json:"employeeId"`
	Lines      []models.LineSpec `json:"lines"`
}

// handleLoansRoot handles /api/loans: GET lists (any role), POST creates
// (MANAGER+).
func (s *Server) handleLoansRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleLoanList(w, r)
	case http.MethodPost:
		s.handleLoanCreate(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleLoanList(w http.ResponseWriter, r *http.Request) {
	id := s.identity(w, r)
	if id == nil {
		return
	}

	q := r.URL.Query()
	filter := storage.LoanFilter{
		EmployeeID:  q.Get("employeeId"),
		CreatedByID: q.Get("createdById"),
		Status:      q.Get("status"),
		Offset:      queryInt(r, "offset", 0),
		Limit:       queryInt(r, "limit", 50),
	}
	// Only ADMIN sees soft-deleted loans.
	if q.Get("includeDeleted") == "true" {
		if id.Role != models.RoleAdmin {
			WriteErr(w, apperr.New(apperr.KindForbidden, "insufficient role"))
			return
		}
		filter.IncludeDeleted = true
	}

	loans, err := storage.ListLoans(r.Context(), s.store.DB(), filter)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, loans)
}

func (s *Server) handleLoanCreate(w http.ResponseWriter, r *http.Request) {
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var req createLoanRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" {
		WriteErr(w, apperr.Validation(apperr.FieldError{Field: "employeeId", Message: "is required"}))
		return
	}

	created, err := s.loans.Create(r.Context(), actor, requestMeta(r), req.EmployeeID, req.Lines)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusCreated, created)
}

// handleLoanByID handles /api/loans/{id}: GET (any role), DELETE
// soft-deletes (creator or ADMIN, enforced by the engine).
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		caller := s.identity(w, r)
		if caller == nil {
			return
		}
		l, err := storage.GetLoan(r.Context(), s.store.DB(), id)
		if err != nil {
			WriteErr(w, err)
			return
		}
		if l.DeletedAt != nil && caller.Role != models.RoleAdmin {
			WriteErr(w, apperr.New(apperr.KindNotFound, "loan not found"))
			return
		}
		WriteData(w, http.StatusOK, l)

	case http.MethodDelete:
		actor := s.requireManager(w, r)
		if actor == nil {
			return
		}
		if err := s.loans.SoftDelete(r.Context(), actor, requestMeta(r), id); err != nil {
			WriteErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleLoanLineAdd handles POST /api/loans/{id}/lines (MANAGER+, creator
// or ADMIN via the ownership gate in the engine).
func (s *Server) handleLoanLineAdd(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var spec models.LineSpec
	if !DecodeJSON(w, r, &spec) {
		return
	}

	updated, err := s.loans.AddLine(r.Context(), actor, requestMeta(r), id, spec)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusCreated, updated)
}

// handleLoanLineRemove handles DELETE /api/loans/{id}/lines/{lineId}.
func (s *Server) handleLoanLineRemove(w http.ResponseWriter, r *http.Request, id, lineID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	updated, err := s.loans.RemoveLine(r.Context(), actor, requestMeta(r), id, lineID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, updated)
}

type signRequest struct {
	Signature string `json:"signature"` // base64-encoded image bytes
	Format    string `json:"format"`    // png or svg
}

// handleLoanSign handles POST /api/loans/{id}/sign/pickup and sign/return.
func (s *Server) handleLoanSign(w http.ResponseWriter, r *http.Request, id, kind string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var req signRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		WriteErr(w, apperr.Validation(apperr.FieldError{Field: "signature", Message: "must be base64-encoded"}))
		return
	}
	sig := loan.Signature{Data: data, Format: req.Format}

	var updated *models.Loan
	if kind == "pickup" {
		updated, err = s.loans.SignPickup(r.Context(), actor, requestMeta(r), id, sig)
	} else {
		updated, err = s.loans.SignReturn(r.Context(), actor, requestMeta(r), id, sig)
	}
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, updated)
}

// handleLoanClose handles POST /api/loans/{id}/close.
func (s *Server) handleLoanClose(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	closed, err := s.loans.Close(r.Context(), actor, requestMeta(r), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, closed)
}

// handleSignatureGet handles GET /api/signatures/{ref}, serving the stored
// signature blob.
func (s *Server) handleSignatureGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.identity(w, r) == nil {
		return
	}

	ref := "sig/" + strings.TrimPrefix(r.URL.Path, "/api/signatures/")
	data, err := s.sigs.Open(ref)
	if err != nil {
		WriteErr(w, err)
		return
	}

	contentType := "image/png"
	if strings.HasSuffix(ref, ".svg") {
		contentType = "image/svg+xml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
