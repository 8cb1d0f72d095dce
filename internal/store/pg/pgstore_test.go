package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"xplora.org/internal/audit"
	"xplora.org/internal/auth"
	"xplora.org/internal/gateway"
	"xplora.org/internal/request"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestSubmitSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select success, error_code.*from submit_field_request").
		WithArgs("req-1", "FAR-1", "u-1", "acct-1", "ssn", "KYC", "T-9", 30).
		WillReturnRows(sqlmock.NewRows([]string{"success", "error_code"}).AddRow(true, nil))

	r := request.FieldAccessRequest{
		ID: "req-1", Ref: "FAR-1", RequesterID: "u-1", AccountID: "acct-1",
		Field: request.FieldSSN, Reason: "KYC", TicketReference: "T-9",
		Status: request.StatusPending, DurationMinutes: 30,
	}
	if err := store.Submit(context.Background(), &r); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitDuplicatePending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select success, error_code.*from submit_field_request").
		WillReturnRows(sqlmock.NewRows([]string{"success", "error_code"}).AddRow(false, "PENDING_EXISTS"))

	r := request.FieldAccessRequest{
		ID: "req-1", Ref: "FAR-1", RequesterID: "u-1", AccountID: "acct-1",
		Field: request.FieldSSN, Reason: "KYC", DurationMinutes: 30,
	}
	if err := store.Submit(context.Background(), &r); !errors.Is(err, request.ErrDuplicateRequest) {
		t.Fatalf("err = %v, want ErrDuplicateRequest", err)
	}
}

func TestApproveAlreadyProcessed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select success from approve_request").
		WillReturnRows(sqlmock.NewRows([]string{"success"}).AddRow(false))

	now := time.Now().UTC()
	err := store.Approve(context.Background(), "req-1", "u-super", now, now.Add(30*time.Minute), 30)
	if !errors.Is(err, request.ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestRejectLosesRaceLooksMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update field_access_requests").
		WillReturnError(sql.ErrNoRows)

	err := store.Reject(context.Background(), "req-1", "u-super", time.Now().UTC(), "no")
	if !errors.Is(err, request.ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestHasActiveAccess(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("select exists").
		WithArgs("u-1", "acct-1", "ssn", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasActiveAccess(context.Background(), "u-1", "acct-1", request.FieldSSN, now)
	if err != nil || !ok {
		t.Fatalf("HasActiveAccess = %v, %v; want true", ok, err)
	}
}

func TestListByRequesterScansRows(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC()
	reviewed := created.Add(time.Minute)
	expires := created.Add(31 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "ref", "requester_id", "account_id", "field_name", "reason",
		"ticket_reference", "status", "reviewed_by", "reviewed_at",
		"rejection_reason", "expires_at", "duration_minutes", "created_at",
	}).
		AddRow("req-1", "FAR-1", "u-1", "acct-1", "ssn", "KYC", "", "APPROVED", "u-super", reviewed, "", expires, 30, created).
		AddRow("req-2", "FAR-2", "u-1", "acct-2", "email", "contact", "T-3", "PENDING", "", nil, "", nil, 30, created)

	mock.ExpectQuery("from field_access_requests").
		WithArgs("u-1", 100).
		WillReturnRows(rows)

	res, err := store.ListByRequester(context.Background(), "u-1", 0)
	if err != nil {
		t.Fatalf("ListByRequester: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2", len(res))
	}
	if res[0].Status != request.StatusApproved || res[0].ExpiresAt == nil {
		t.Fatalf("first row = %+v", res[0])
	}
	if res[1].Status != request.StatusPending || res[1].ExpiresAt != nil {
		t.Fatalf("second row = %+v", res[1])
	}
}

func TestListPendingReadsDashboard(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "ref", "requester_name", "branch_code", "account_id", "field_name", "reason", "mins_waiting",
	}).AddRow("req-1", "FAR-1", "Tara Teller", "BR-001", "acct-1", "ssn", "KYC", 42)

	mock.ExpectQuery("from pending_requests_dashboard").
		WithArgs(100).
		WillReturnRows(rows)

	res, err := store.ListPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(res) != 1 || res[0].MinsWaiting != 42 || res[0].Field != request.FieldSSN {
		t.Fatalf("res = %+v", res)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("from customer_accounts").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetAccount(context.Background(), "missing"); !errors.Is(err, gateway.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestEncryptedFieldRejectsUnknownColumn(t *testing.T) {
	store, _ := newMockStore(t)

	if _, err := store.EncryptedField(context.Background(), "acct-1", request.Field("pin; drop table users")); !errors.Is(err, request.ErrInvalidField) {
		t.Fatalf("err = %v, want ErrInvalidField", err)
	}
}

func TestFindByUsername(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "employee_id", "username", "full_name", "role", "branch_code",
		"active", "locked", "failed_login_attempts", "password_hash", "created_at",
	}).AddRow("u-1", "E-100", "teller1", "Tara Teller", "TELLER", "BR-001", true, false, 0, "$2a$10$hash", created)

	mock.ExpectQuery("from users").
		WithArgs("teller1").
		WillReturnRows(rows)

	u, err := store.FindByUsername(context.Background(), "teller1")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if u.Role != auth.RoleTeller || !u.Active {
		t.Fatalf("user = %+v", u)
	}

	mock.ExpectQuery("from users").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.FindByUsername(context.Background(), "ghost"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRecordLoginFailureReturnsCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update users").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts"}).AddRow(3))

	n, err := store.RecordLoginFailure(context.Background(), "u-1")
	if err != nil || n != 3 {
		t.Fatalf("RecordLoginFailure = %d, %v; want 3", n, err)
	}
}

func TestAuditSinkInsert(t *testing.T) {
	store, mock := newMockStore(t)
	sink := NewAuditSink(store)

	mock.ExpectExec("insert into pci_audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sink.Append(context.Background(), audit.Event{
		ID:            "evt-1",
		ActorID:       "u-1",
		ActorUsername: "teller1",
		Type:          audit.EventFieldAccessView,
		Category:      audit.CategoryAccess,
		Success:       true,
		TableName:     "customer_accounts",
		RecordID:      "acct-1",
		Fields:        []string{"ssn"},
		At:            time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
