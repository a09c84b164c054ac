package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/depot/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Auth
	mux.HandleFunc("/api/auth/register", s.handleAuthRegister)
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("/api/auth/refresh", s.handleAuthRefresh)
	mux.HandleFunc("/api/auth/logout", s.handleAuthLogout)

	// Users
	mux.HandleFunc("/api/users/me/password", s.handleChangePassword)
	mux.HandleFunc("/api/users/me", s.handleCurrentUser)
	mux.HandleFunc("/api/users/", s.routeUsers)
	mux.HandleFunc("/api/users", s.handleUserList)

	// Employees
	mux.HandleFunc("/api/employees/", s.routeEmployees)
	mux.HandleFunc("/api/employees", s.handleEmployeesRoot)

	// Assets
	mux.HandleFunc("/api/assets/models/", s.routeAssetModels)
	mux.HandleFunc("/api/assets/models", s.handleAssetModelsRoot)
	mux.HandleFunc("/api/assets/items/", s.routeAssetItems)
	mux.HandleFunc("/api/assets/items", s.handleAssetItemsRoot)
	mux.HandleFunc("/api/assets/stock/", s.routeStock)
	mux.HandleFunc("/api/assets/stock", s.handleStockRoot)

	// Loans
	mux.HandleFunc("/api/loans/", s.routeLoans)
	mux.HandleFunc("/api/loans", s.handleLoansRoot)

	// Signatures
	mux.HandleFunc("/api/signatures/", s.handleSignatureGet)

	// Audit
	mux.HandleFunc("/api/audit", s.handleAuditList)
}

// routeUsers dispatches /api/users/{id}/* to the appropriate handler.
func (s *Server) routeUsers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 2 && parts[1] == "role" {
		s.handleUserRoleUpdate(w, r, parts[0])
		return
	}
	WriteError(w, http.StatusNotFound, "not found")
}

// routeEmployees dispatches /api/employees/{id}.
func (s *Server) routeEmployees(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/employees/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleEmployeeByID(w, r, id)
}

// routeAssetModels dispatches /api/assets/models/{id}.
func (s *Server) routeAssetModels(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/assets/models/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleAssetModelByID(w, r, id)
}

// routeAssetItems dispatches /api/assets/items/{id} and {id}/status.
func (s *Server) routeAssetItems(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/assets/items/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "status" {
			s.handleAssetItemStatus(w, r, parts[0])
			return
		}
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleAssetItemByID(w, r, parts[0])
}

// routeStock dispatches /api/assets/stock/{id}.
func (s *Server) routeStock(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/assets/stock/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleStockByID(w, r, id)
}

// routeLoans dispatches /api/loans/{id}/* to the appropriate handler.
func (s *Server) routeLoans(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/loans/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		s.handleLoansRoot(w, r)
		return
	}

	subpath := ""
	if len(parts) > 1 {
		subpath = parts[1]
	}

	switch {
	case subpath == "":
		s.handleLoanByID(w, r, id)
	case subpath == "lines":
		s.handleLoanLineAdd(w, r, id)
	case strings.HasPrefix(subpath, "lines/"):
		s.handleLoanLineRemove(w, r, id, strings.TrimPrefix(subpath, "lines/"))
	case subpath == "sign/pickup":
		s.handleLoanSign(w, r, id, "pickup")
	case subpath == "sign/return":
		s.handleLoanSign(w, r, id, "return")
	case subpath == "close":
		s.handleLoanClose(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "not found")
	}
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteData(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
