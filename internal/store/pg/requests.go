package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"xplora.org/internal/request"
)

func (s *Store) Submit(ctx context.Context, r *request.FieldAccessRequest) error {
	// submit_field_request inserts atomically with the duplicate-PENDING
	// check; the partial unique index backs it up under concurrency.
	var success bool
	var errorCode sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select success, error_code
		from submit_field_request($1,$2,$3,$4,$5,$6,nullif($7,''),$8)
	`, r.ID, r.Ref, r.RequesterID, r.AccountID, string(r.Field), r.Reason, r.TicketReference, r.DurationMinutes).
		Scan(&success, &errorCode)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return request.ErrDuplicateRequest
		}
		return err
	}
	if !success {
		if errorCode.Valid && errorCode.String == "PENDING_EXISTS" {
			return request.ErrDuplicateRequest
		}
		return request.ErrInvalidInput
	}
	return nil
}

func (s *Store) Approve(ctx context.Context, id, approverID string, reviewedAt, expiresAt time.Time, durationMinutes int) error {
	var success bool
	err := s.db.QueryRowContext(ctx, `
		select success from approve_request($1,$2,$3,$4,$5)
	`, id, approverID, reviewedAt, expiresAt, durationMinutes).Scan(&success)
	if err != nil {
		return err
	}
	// The function only flips rows whose stored status is still PENDING,
	// so a raced or missing request reads the same either way.
	if !success {
		return request.ErrRequestNotFound
	}
	return nil
}

func (s *Store) Reject(ctx context.Context, id, approverID string, reviewedAt time.Time, reason string) error {
	var updated string
	err := s.db.QueryRowContext(ctx, `
		update field_access_requests
		set status='REJECTED', reviewed_by=$2, reviewed_at=$3, rejection_reason=$4
		where id=$1 and status='PENDING'
		returning id
	`, id, approverID, reviewedAt, reason).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return request.ErrRequestNotFound
	}
	return err
}

func (s *Store) ListByRequester(ctx context.Context, requesterID string, limit int) ([]request.FieldAccessRequest, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, ref, requester_id, account_id, field_name, reason,
		       coalesce(ticket_reference,''), status,
		       coalesce(reviewed_by,''), reviewed_at,
		       coalesce(rejection_reason,''), expires_at, duration_minutes, created_at
		from field_access_requests
		where requester_id=$1
		order by created_at desc
		limit $2
	`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []request.FieldAccessRequest
	for rows.Next() {
		var r request.FieldAccessRequest
		var field string
		var status string
		var reviewedAt, expiresAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Ref, &r.RequesterID, &r.AccountID, &field, &r.Reason,
			&r.TicketReference, &status, &r.ReviewedBy, &reviewedAt,
			&r.RejectionReason, &expiresAt, &r.DurationMinutes, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Field = request.Field(field)
		r.Status = request.Status(status)
		if reviewedAt.Valid {
			t := reviewedAt.Time
			r.ReviewedAt = &t
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			r.ExpiresAt = &t
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]request.PendingSummary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, ref, requester_name, branch_code, account_id, field_name, reason, mins_waiting
		from pending_requests_dashboard
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []request.PendingSummary
	for rows.Next() {
		var p request.PendingSummary
		var field string
		if err := rows.Scan(&p.ID, &p.Ref, &p.Requester, &p.BranchCode, &p.Account, &field, &p.Reason, &p.MinsWaiting); err != nil {
			return nil, err
		}
		p.Field = request.Field(field)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) HasActiveAccess(ctx context.Context, userID, accountID string, field request.Field, now time.Time) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from field_access_requests
			where requester_id=$1 and account_id=$2 and field_name=$3
			  and status='APPROVED' and expires_at > $4
		)
	`, userID, accountID, string(field), now).Scan(&ok)
	return ok, err
}
