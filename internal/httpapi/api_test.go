package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"xplora.org/internal/auth"
	"xplora.org/internal/fieldcrypt"
	"xplora.org/internal/gateway"
	"xplora.org/internal/request"
)

type stubUsers struct {
	users map[string]auth.User
}

func (s *stubUsers) FindByUsername(_ context.Context, username string) (auth.User, error) {
	u, ok := s.users[username]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) RecordLoginFailure(_ context.Context, userID string) (int, error) {
	for k, u := range s.users {
		if u.ID == userID {
			u.FailedLoginAttempts++
			s.users[k] = u
			return u.FailedLoginAttempts, nil
		}
	}
	return 0, auth.ErrUserNotFound
}

func (s *stubUsers) Lock(_ context.Context, userID string) error {
	for k, u := range s.users {
		if u.ID == userID {
			u.Locked = true
			s.users[k] = u
		}
	}
	return nil
}

func (s *stubUsers) ResetLoginFailures(_ context.Context, userID string) error {
	for k, u := range s.users {
		if u.ID == userID {
			u.FailedLoginAttempts = 0
			s.users[k] = u
		}
	}
	return nil
}

type stubAccounts struct {
	account gateway.Account
	blobs   map[request.Field]string
}

func (s *stubAccounts) GetAccount(_ context.Context, id string) (gateway.Account, error) {
	if id != s.account.ID {
		return gateway.Account{}, gateway.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *stubAccounts) EncryptedField(_ context.Context, _ string, field request.Field) (string, error) {
	return s.blobs[field], nil
}

func (s *stubAccounts) SearchAccounts(_ context.Context, _ string, _ int) ([]gateway.Account, error) {
	return []gateway.Account{s.account}, nil
}

type testEnv struct {
	server *httptest.Server
	store  *request.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XPLORA_AUTH_SECRET", "test-secret-for-httpapi")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	users := &stubUsers{users: map[string]auth.User{
		"teller1": {ID: "u-teller", Username: "teller1", FullName: "Tara Teller", Role: auth.RoleTeller, Active: true, PasswordHash: string(hash)},
		"super1":  {ID: "u-super", Username: "super1", FullName: "Sam Supervisor", Role: auth.RoleSupervisor, Active: true, PasswordHash: string(hash)},
	}}
	authn, err := auth.NewAuthenticator(users, time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	cipher, err := fieldcrypt.New("test-master-key", false)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	ssn, err := cipher.Encrypt(context.Background(), "123-45-6789")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	accounts := &stubAccounts{
		account: gateway.Account{
			ID:         "acct-1",
			HolderName: "Jane Doe",
			SSNLast4:   "6789",
			Status:     "ACTIVE",
		},
		blobs: map[request.Field]string{request.FieldSSN: ssn},
	}

	store := request.NewInMemory()
	svc, err := request.NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	gw, err := gateway.New(accounts, svc, cipher, nil)
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	api := New(ReadyProbe{}, "test", authn, svc, gw)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "correct horse"})
	resp, err := http.Post(e.server.URL+"/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		buf = bytes.NewReader(raw)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"username": "teller1", "password": "wrong"})
	resp, err := http.Post(env.server.URL+"/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedPathsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/requests/mine", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSubmitApproveReadFlow(t *testing.T) {
	env := newTestEnv(t)
	tellerTok := env.login(t, "teller1")
	superTok := env.login(t, "super1")

	// Teller cannot see plaintext before approval.
	resp := env.do(t, http.MethodGet, "/v1/accounts/acct-1?field=ssn", tellerTok, nil)
	var denied gateway.FieldValue
	if err := json.NewDecoder(resp.Body).Decode(&denied); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if denied.Granted || denied.Value != "***-**-6789" {
		t.Fatalf("pre-approval read = %+v, want masked denial", denied)
	}

	resp = env.do(t, http.MethodPost, "/v1/requests", tellerTok, map[string]string{
		"account_id": "acct-1",
		"field_name": "ssn",
		"reason":     "KYC verification",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}
	var far request.FieldAccessRequest
	if err := json.NewDecoder(resp.Body).Decode(&far); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	resp.Body.Close()

	// Resubmitting the same triple conflicts.
	resp = env.do(t, http.MethodPost, "/v1/requests", tellerTok, map[string]string{
		"account_id": "acct-1",
		"field_name": "ssn",
		"reason":     "again",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}

	// A teller may not approve.
	resp = env.do(t, http.MethodPost, "/v1/requests/"+far.ID+"/approve", tellerTok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("teller approve status = %d, want 403", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/v1/requests/"+far.ID+"/approve", superTok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/v1/accounts/acct-1?field=ssn", tellerTok, nil)
	var granted gateway.FieldValue
	if err := json.NewDecoder(resp.Body).Decode(&granted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if !granted.Granted || granted.Value != "123-45-6789" {
		t.Fatalf("post-approval read = %+v, want plaintext", granted)
	}

	// Approver identity recorded from the session.
	stored, _ := env.store.Get(far.ID)
	if stored.ReviewedBy != "u-super" {
		t.Fatalf("reviewed_by = %q, want u-super", stored.ReviewedBy)
	}
}

func TestRejectFlow(t *testing.T) {
	env := newTestEnv(t)
	tellerTok := env.login(t, "teller1")
	superTok := env.login(t, "super1")

	resp := env.do(t, http.MethodPost, "/v1/requests", tellerTok, map[string]string{
		"account_id": "acct-1",
		"field_name": "email",
		"reason":     "customer callback",
	})
	var far request.FieldAccessRequest
	if err := json.NewDecoder(resp.Body).Decode(&far); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/v1/requests/"+far.ID+"/reject", superTok, map[string]string{"reason": "no ticket"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status = %d, want 200", resp.StatusCode)
	}

	// Resolving twice looks like a missing request.
	resp = env.do(t, http.MethodPost, "/v1/requests/"+far.ID+"/approve", superTok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second resolve status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login(t, "teller1")

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"unknown field", map[string]string{"account_id": "acct-1", "field_name": "pin", "reason": "x"}, http.StatusBadRequest},
		{"empty reason", map[string]string{"account_id": "acct-1", "field_name": "ssn", "reason": " "}, http.StatusBadRequest},
		{"missing account", map[string]string{"field_name": "ssn", "reason": "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/requests", tok, tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestPendingDashboardForApproverOnly(t *testing.T) {
	env := newTestEnv(t)
	tellerTok := env.login(t, "teller1")
	superTok := env.login(t, "super1")

	resp := env.do(t, http.MethodPost, "/v1/requests", tellerTok, map[string]string{
		"account_id": "acct-1",
		"field_name": "phone",
		"reason":     "callback",
	})
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/requests/pending", tellerTok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("teller dashboard status = %d, want 403", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/v1/requests/pending", superTok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approver dashboard status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Items []request.PendingSummary `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Field != request.FieldPhone {
		t.Fatalf("items = %+v", out.Items)
	}
}

func TestAccountSummaryAndSearch(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login(t, "teller1")

	resp := env.do(t, http.MethodGet, "/v1/accounts/acct-1", tok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	var acct gateway.Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.HolderName != "Jane Doe" {
		t.Fatalf("account = %+v", acct)
	}

	resp2 := env.do(t, http.MethodGet, "/v1/accounts?q=jane", tok, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp2.StatusCode)
	}

	resp3 := env.do(t, http.MethodGet, "/v1/accounts/no-such", tok, nil)
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("missing account status = %d, want 404", resp3.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login(t, "teller1")

	resp := env.do(t, http.MethodDelete, "/v1/requests/mine", tok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}
