package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/depot/internal/auth"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/services/loan"
	"github.com/bobmcallan/depot/internal/storage"
	"github.com/bobmcallan/depot/internal/storage/kvcache"
	"github.com/bobmcallan/depot/internal/storage/sigstore"
)

// newTestServer builds a full server over temp storage. Rate limits are
// opened wide by default; tests can tighten them through mutate.
func newTestServer(t *testing.T, mutate ...func(*common.Config)) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(dir, "depot.db")
	cfg.Storage.SignaturesDir = filepath.Join(dir, "sig")
	cfg.RateLimit = common.RateLimitConfig{WindowMinutes: 15, Auth: 1000, Mutation: 1000, General: 1000}
	for _, fn := range mutate {
		fn(cfg)
	}

	store, err := storage.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := kvcache.Open("", logger)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	sigs, err := sigstore.New(cfg.Storage.SignaturesDir)
	if err != nil {
		t.Fatalf("failed to open signature store: %v", err)
	}

	tokens := auth.NewTokenService(&cfg.Auth, cache, logger)
	loans := loan.NewEngine(store, sigs, logger)
	return NewServer(cfg, logger, store, tokens, loans, sigs)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return bytes.NewBuffer(data)
}

// do runs a request through the full middleware stack.
func do(t *testing.T, srv *Server, method, path, token string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		reader = jsonBody(t, body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v: %s", err, rec.Body.String())
	}
	return env
}

func dataMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	env := decodeEnvelope(t, rec)
	m, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("envelope data is not an object: %s", rec.Body.String())
	}
	return m
}

// register creates an account and returns its id.
func register(t *testing.T, srv *Server, email, password string) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	user, ok := dataMap(t, rec)["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("register response has no user: %s", rec.Body.String())
	}
	return user["id"].(string)
}

// refreshCookie extracts the refresh token cookie from a session response.
func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	t.Fatalf("no refreshToken cookie in response")
	return nil
}

// login returns the access token and the refresh cookie.
func login(t *testing.T, srv *Server, email, password string) (string, *http.Cookie) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	access := dataMap(t, rec)["accessToken"].(string)
	rc := refreshCookie(t, rec)
	if !rc.HttpOnly {
		t.Fatalf("refresh cookie must be HTTP-only")
	}
	return access, rc
}

const (
	testPassword = "Str0ng-pass!"
	uuidLike     = "00000000-0000-4000-8000-000000000000"
)

// adminToken bootstraps the first (ADMIN) account and logs in.
func adminToken(t *testing.T, srv *Server) string {
	t.Helper()
	register(t, srv, "admin@example.com", testPassword)
	access, _ := login(t, srv, "admin@example.com", testPassword)
	return access
}

func TestFirstUserIsAdminRestAreManagers(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "first@example.com", "password": testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	first := dataMap(t, rec)["user"].(map[string]interface{})
	if first["role"] != "ADMIN" {
		t.Fatalf("expected first user to be ADMIN, got %v", first["role"])
	}
	if dataMap(t, rec)["accessToken"] == "" {
		t.Fatalf("expected registration to open a session")
	}

	rec = do(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "second@example.com", "password": testPassword,
	})
	second := dataMap(t, rec)["user"].(map[string]interface{})
	if second["role"] != "MANAGER" {
		t.Fatalf("expected second user to be MANAGER, got %v", second["role"])
	}
}

func TestRegisterValidatesPasswordPolicy(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "weak@example.com", "password": "weak",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Success || len(env.Details) == 0 {
		t.Fatalf("expected failure envelope with details: %s", rec.Body.String())
	}
}

func TestDuplicateEmailConflicts(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "dup@example.com", testPassword)

	rec := do(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dup@example.com", "password": testPassword,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "user@example.com", testPassword)

	rec := do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "user@example.com", "password": "Wrong-pass1!",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}

	// Unknown account produces the identical status and message.
	rec2 := do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ghost@example.com", "password": "Wrong-pass1!",
	})
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec2.Code)
	}
	if decodeEnvelope(t, rec).Error != decodeEnvelope(t, rec2).Error {
		t.Fatalf("login errors must not distinguish unknown accounts")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/employees", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate challenge")
	}

	rec = do(t, srv, http.MethodGet, "/api/employees", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestReaderCannotMutate(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)
	readerID := register(t, srv, "reader@example.com", testPassword)

	rec0 := do(t, srv, http.MethodPut, "/api/users/"+readerID+"/role", access, map[string]string{"role": "READER"})
	if rec0.Code != http.StatusOK {
		t.Fatalf("demote: expected 200, got %d: %s", rec0.Code, rec0.Body.String())
	}

	// The demotion invalidated the reader's sessions; iat has one-second
	// resolution, so step past the cutoff before logging in again.
	time.Sleep(1100 * time.Millisecond)
	readerAccess, _ := login(t, srv, "reader@example.com", testPassword)

	rec := do(t, srv, http.MethodPost, "/api/employees", readerAccess, map[string]string{
		"firstName": "No", "lastName": "Way",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	// Reads are fine for READER.
	rec = do(t, srv, http.MethodGet, "/api/employees", readerAccess, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "rot@example.com", testPassword)
	_, refresh := login(t, srv, "rot@example.com", testPassword)

	rec := do(t, srv, http.MethodPost, "/api/auth/refresh", "", nil, refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rotated := refreshCookie(t, rec)
	if rotated.Value == refresh.Value {
		t.Fatalf("expected refresh to rotate the cookie")
	}

	// Replaying the consumed cookie fails.
	rec = do(t, srv, http.MethodPost, "/api/auth/refresh", "", nil, refresh)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d: %s", rec.Code, rec.Body.String())
	}

	// The rotated cookie still works.
	rec = do(t, srv, http.MethodPost, "/api/auth/refresh", "", nil, rotated)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for rotated cookie, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshWithoutCookieRejected(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/auth/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/auth/logout", access, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/users/me", access, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRoleChangeInvalidatesTargetSessions(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)
	targetID := register(t, srv, "target@example.com", testPassword)
	targetAccess, _ := login(t, srv, "target@example.com", testPassword)

	rec := do(t, srv, http.MethodPut, "/api/users/"+targetID+"/role", access, map[string]string{"role": "READER"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The pre-change token is dead; the old role cannot linger.
	rec = do(t, srv, http.MethodGet, "/api/users/me", targetAccess, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalidated session, got %d", rec.Code)
	}

	// A fresh login carries the new role. Invalidation has one-second
	// resolution on iat, so step past it first.
	time.Sleep(1100 * time.Millisecond)
	newAccess, _ := login(t, srv, "target@example.com", testPassword)
	rec = do(t, srv, http.MethodPost, "/api/employees", newAccess, map[string]string{
		"firstName": "Not", "lastName": "Anymore",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with READER role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCannotChangeOwnRole(t *testing.T) {
	srv := newTestServer(t)
	adminID := register(t, srv, "admin@example.com", testPassword)
	access, _ := login(t, srv, "admin@example.com", testPassword)

	rec := do(t, srv, http.MethodPut, "/api/users/"+adminID+"/role", access, map[string]string{"role": "READER"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEmployeeValidationReportsAllFields(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/employees", access, map[string]string{
		"email": "not-an-email",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if len(env.Details) != 3 { // firstName, lastName, email
		t.Fatalf("expected 3 field errors, got %d: %s", len(env.Details), rec.Body.String())
	}
}

func TestManagerCannotEditForeignEmployee(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/employees", access, map[string]string{
		"firstName": "Owned", "lastName": "Elsewhere",
	})
	empID := dataMap(t, rec)["id"].(string)

	register(t, srv, "mgr2@example.com", testPassword)
	mgrAccess, _ := login(t, srv, "mgr2@example.com", testPassword)

	rec = do(t, srv, http.MethodPut, "/api/employees/"+empID, mgrAccess, map[string]string{
		"firstName": "Not", "lastName": "Yours",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign employee, got %d: %s", rec.Code, rec.Body.String())
	}

	// A nonexistent employee produces the identical denial.
	rec2 := do(t, srv, http.MethodPut, "/api/employees/"+uuidLike, mgrAccess, map[string]string{
		"firstName": "No", "lastName": "One",
	})
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing employee, got %d: %s", rec2.Code, rec2.Body.String())
	}
	if decodeEnvelope(t, rec).Error != decodeEnvelope(t, rec2).Error {
		t.Fatalf("denials must not distinguish missing from foreign employees")
	}

	// The owning admin edits freely.
	rec = do(t, srv, http.MethodPut, "/api/employees/"+empID, access, map[string]string{
		"firstName": "Still", "lastName": "Here",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin edit, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestManagerCannotReadForeignEmployee(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/employees", access, map[string]string{
		"firstName": "Owned", "lastName": "Elsewhere",
	})
	empID := dataMap(t, rec)["id"].(string)

	register(t, srv, "mgr3@example.com", testPassword)
	mgrAccess, _ := login(t, srv, "mgr3@example.com", testPassword)

	rec = do(t, srv, http.MethodGet, "/api/employees/"+empID, mgrAccess, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading a foreign employee, got %d: %s", rec.Code, rec.Body.String())
	}

	// A missing id yields the identical denial, so the endpoint cannot be
	// used to confirm an employee exists.
	rec2 := do(t, srv, http.MethodGet, "/api/employees/"+uuidLike, mgrAccess, nil)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading a missing employee, got %d: %s", rec2.Code, rec2.Body.String())
	}
	if decodeEnvelope(t, rec).Error != decodeEnvelope(t, rec2).Error {
		t.Fatalf("denials must not distinguish missing from foreign employees")
	}

	// The manager reads their own employee.
	rec = do(t, srv, http.MethodPost, "/api/employees", mgrAccess, map[string]string{
		"firstName": "Mine", "lastName": "Here",
	})
	ownID := dataMap(t, rec)["id"].(string)
	rec = do(t, srv, http.MethodGet, "/api/employees/"+ownID, mgrAccess, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reading an owned employee, got %d: %s", rec.Code, rec.Body.String())
	}

	// ADMIN reads anything, and sees the true 404 for a missing id.
	rec = do(t, srv, http.MethodGet, "/api/employees/"+ownID, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin read, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodGet, "/api/employees/"+uuidLike, access, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for admin read of missing employee, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/employees", access, map[string]string{
		"firstName": "Lana", "lastName": "Loan",
	})
	empID := dataMap(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodPost, "/api/assets/models", access, map[string]string{
		"type": "LAPTOP", "brand": "HP", "modelName": "EliteBook",
	})
	modelID := dataMap(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodPost, "/api/assets/items", access, map[string]string{
		"assetModelId": modelID, "assetTag": "IT-0001",
	})
	itemID := dataMap(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodPost, "/api/assets/stock", access, map[string]interface{}{
		"assetModelId": modelID, "quantity": 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("stock create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Create the loan with one asset line and one stock line.
	rec = do(t, srv, http.MethodPost, "/api/loans", access, map[string]interface{}{
		"employeeId": empID,
		"lines": []map[string]interface{}{
			{"assetItemId": itemID},
			{"assetModelId": modelID, "quantity": 2},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("loan create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	loanID := dataMap(t, rec)["id"].(string)

	// The lent item cannot be hand-edited into another status.
	rec = do(t, srv, http.MethodPut, "/api/assets/items/"+itemID+"/status", access, map[string]string{"status": "BROKEN"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for lent item, got %d: %s", rec.Code, rec.Body.String())
	}

	sig := base64.StdEncoding.EncodeToString([]byte("scribble"))
	rec = do(t, srv, http.MethodPost, "/api/loans/"+loanID+"/sign/pickup", access, map[string]string{
		"signature": sig, "format": "png",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pickup sign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	pickupURL := dataMap(t, rec)["pickupSignatureUrl"].(string)

	// The stored signature blob is retrievable.
	rec = do(t, srv, http.MethodGet, "/api/signatures/"+pickupURL[len("sig/"):], access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signature fetch: expected 200, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/loans/"+loanID+"/sign/return", access, map[string]string{
		"signature": sig, "format": "png",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("return sign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/loans/"+loanID+"/close", access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status := dataMap(t, rec)["status"]; status != "CLOSED" {
		t.Fatalf("expected CLOSED, got %v", status)
	}

	// The item came back into stock at close.
	rec = do(t, srv, http.MethodGet, "/api/assets/items/"+itemID, access, nil)
	if status := dataMap(t, rec)["status"]; status != "IN_STOCK" {
		t.Fatalf("expected IN_STOCK after close, got %v", status)
	}
}

func TestSoftDeletedLoanHiddenFromNonAdmins(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/employees", access, map[string]string{
		"firstName": "Gone", "lastName": "Soon",
	})
	empID := dataMap(t, rec)["id"].(string)
	rec = do(t, srv, http.MethodPost, "/api/assets/models", access, map[string]string{
		"type": "MOUSE", "brand": "Logi", "modelName": "M510",
	})
	modelID := dataMap(t, rec)["id"].(string)
	rec = do(t, srv, http.MethodPost, "/api/assets/stock", access, map[string]interface{}{
		"assetModelId": modelID, "quantity": 5,
	})

	rec = do(t, srv, http.MethodPost, "/api/loans", access, map[string]interface{}{
		"employeeId": empID,
		"lines":      []map[string]interface{}{{"assetModelId": modelID, "quantity": 1}},
	})
	loanID := dataMap(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodDelete, "/api/loans/"+loanID, access, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("soft delete: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	register(t, srv, "outsider@example.com", testPassword)
	outsiderAccess, _ := login(t, srv, "outsider@example.com", testPassword)

	rec = do(t, srv, http.MethodGet, "/api/loans/"+loanID, outsiderAccess, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-admin, got %d", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/api/loans?includeDeleted=true", outsiderAccess, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin includeDeleted, got %d", rec.Code)
	}

	// ADMIN still sees it.
	rec = do(t, srv, http.MethodGet, "/api/loans/"+loanID, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestAuditTrailVisibleToAdminOnly(t *testing.T) {
	srv := newTestServer(t)
	access := adminToken(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/audit", access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	register(t, srv, "nosy@example.com", testPassword)
	nosyAccess, _ := login(t, srv, "nosy@example.com", testPassword)
	rec = do(t, srv, http.MethodGet, "/api/audit", nosyAccess, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRateLimitAuthTier(t *testing.T) {
	srv := newTestServer(t, func(cfg *common.Config) {
		cfg.RateLimit = common.RateLimitConfig{WindowMinutes: 15, Auth: 3, Mutation: 100, General: 100}
	})

	var last int
	for i := 0; i < 4; i++ {
		rec := do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": fmt.Sprintf("u%d@example.com", i), "password": "Wrong-pass1!",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on fourth auth attempt, got %d", last)
	}
}

func TestHealthAndVersionArePublic(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope")
	}

	rec = do(t, srv, http.MethodGet, "/api/version", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPasswordChangeInvalidatesSessions(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "pw@example.com", testPassword)
	access, _ := login(t, srv, "pw@example.com", testPassword)

	rec := do(t, srv, http.MethodPost, "/api/users/me/password", access, map[string]string{
		"currentPassword": testPassword, "newPassword": "N3w-Str0ng-pass!",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/users/me", access, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after password change, got %d", rec.Code)
	}

	login(t, srv, "pw@example.com", "N3w-Str0ng-pass!")
}
