package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage"
)

type employeeRequest struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Department    string `json:"department"`
	ManagerUserID string `json:"managerUserId"`
}

// handleEmployeesRoot handles /api/employees: GET lists (any role), POST
// creates (MANAGER+).
func (s *Server) handleEmployeesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleEmployeeList(w, r)
	case http.MethodPost:
		s.handleEmployeeCreate(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleEmployeeList(w http.ResponseWriter, r *http.Request) {
	if s.identity(w, r) == nil {
		return
	}
	q := r.URL.Query()
	employees, err := storage.ListEmployees(r.Context(), s.store.DB(), storage.EmployeeFilter{
		Department:    q.Get("department"),
		ManagerUserID: q.Get("managerUserId"),
		Sort:          q.Get("sort"),
		Descending:    q.Get("order") == "desc",
		Offset:        queryInt(r, "offset", 0),
		Limit:         queryInt(r, "limit", 50),
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, employees)
}

func (s *Server) handleEmployeeCreate(w http.ResponseWriter, r *http.Request) {
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var req employeeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	emp, err := s.validateEmployee(&req)
	if err != nil {
		WriteErr(w, err)
		return
	}

	// A new employee defaults to the creating manager.
	if emp.ManagerUserID == "" {
		emp.ManagerUserID = actor.UserID
	}

	ctx := r.Context()
	now := time.Now().UTC()
	emp.ID = uuid.New().String()
	emp.CreatedAt, emp.UpdatedAt = now, now

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		taken, err := storage.EmployeeEmailTaken(ctx, tx, emp.Email, emp.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.New(apperr.KindConflict, "employee email is already in use")
		}
		if err := storage.CreateEmployee(ctx, tx, emp); err != nil {
			return err
		}
		return s.auditTx(ctx, tx, actor.UserID, r, models.AuditCreate, "employee", emp.ID, nil, emp)
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusCreated, emp)
}

// handleEmployeeByID handles /api/employees/{id}: GET (any role), PUT and
// DELETE (MANAGER+).
func (s *Server) handleEmployeeByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		caller := s.identity(w, r)
		if caller == nil {
			return
		}
		emp, err := s.employeeForActor(r.Context(), s.store.DB(), caller, id)
		if err != nil {
			WriteErr(w, err)
			return
		}
		WriteData(w, http.StatusOK, emp)

	case http.MethodPut:
		s.handleEmployeeUpdate(w, r, id)

	case http.MethodDelete:
		s.handleEmployeeDelete(w, r, id)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) handleEmployeeUpdate(w http.ResponseWriter, r *http.Request, id string) {
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	var req employeeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	update, err := s.validateEmployee(&req)
	if err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	var emp *models.Employee
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := s.employeeForActor(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		taken, err := storage.EmployeeEmailTaken(ctx, tx, update.Email, id)
		if err != nil {
			return err
		}
		if taken {
			return apperr.New(apperr.KindConflict, "employee email is already in use")
		}

		update.ID = id
		update.CreatedAt = before.CreatedAt
		if update.ManagerUserID == "" {
			update.ManagerUserID = before.ManagerUserID
		}
		if err := storage.UpdateEmployee(ctx, tx, update); err != nil {
			return err
		}
		emp = update
		return s.auditTx(ctx, tx, actor.UserID, r, models.AuditUpdate, "employee", id, before, emp)
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteData(w, http.StatusOK, emp)
}

func (s *Server) handleEmployeeDelete(w http.ResponseWriter, r *http.Request, id string) {
	actor := s.requireManager(w, r)
	if actor == nil {
		return
	}

	ctx := r.Context()
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		before, err := s.employeeForActor(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := storage.DeleteEmployee(ctx, tx, id); err != nil {
			return err
		}
		return s.auditTx(ctx, tx, actor.UserID, r, models.AuditDelete, "employee", id, before, nil)
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// employeeForActor loads an employee and applies the ownership rule: a
// non-ADMIN may only act on employees they manage, for reads and writes
// alike. Non-admins get the same generic denial whether the employee is
// missing or foreign, so the endpoint is not an existence oracle.
func (s *Server) employeeForActor(ctx context.Context, q storage.Querier, actor *common.Identity, id string) (*models.Employee, error) {
	emp, err := storage.GetEmployee(ctx, q, id)
	if err != nil {
		if actor.Role != models.RoleAdmin && apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindForbidden, "insufficient permission")
		}
		return nil, err
	}
	if actor.Role != models.RoleAdmin && emp.ManagerUserID != actor.UserID {
		return nil, apperr.New(apperr.KindForbidden, "insufficient permission")
	}
	return emp, nil
}

func (s *Server) validateEmployee(req *employeeRequest) (*models.Employee, error) {
	var check fieldCheck
	emp := &models.Employee{
		FirstName:     check.require("firstName", req.FirstName),
		LastName:      check.require("lastName", req.LastName),
		Email:         check.email("email", req.Email, false),
		Department:    check.optional("department", req.Department, 100),
		ManagerUserID: req.ManagerUserID,
	}
	if err := check.err(); err != nil {
		return nil, err
	}
	return emp, nil
}
