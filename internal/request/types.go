// Package request implements the field-access request lifecycle: employees
// submit requests for sensitive account fields, approvers resolve them, and
// approved requests grant time-boxed access that decays by expiry alone.
package request

import (
	"errors"
	"strings"
	"time"
)

// Field names a sensitive account field. Only these six are recognized;
// everything else is rejected at the boundary.
type Field string

const (
	FieldAccountNumber Field = "account_number"
	FieldSSN           Field = "ssn"
	FieldBalance       Field = "balance"
	FieldEmail         Field = "email"
	FieldPhone         Field = "phone"
	FieldAddress       Field = "address"
)

var sensitiveFields = map[Field]struct{}{
	FieldAccountNumber: {},
	FieldSSN:           {},
	FieldBalance:       {},
	FieldEmail:         {},
	FieldPhone:         {},
	FieldAddress:       {},
}

// ParseField validates and normalizes a field name.
func ParseField(s string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	_, ok := sensitiveFields[f]
	return f, ok
}

// Fields returns the recognized field names in a stable order.
func Fields() []Field {
	return []Field{
		FieldAccountNumber, FieldSSN, FieldBalance,
		FieldEmail, FieldPhone, FieldAddress,
	}
}

// Status of a field access request. EXPIRED is derived, never stored: an
// APPROVED row whose expiry has passed reads as EXPIRED everywhere.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

var (
	ErrInvalidInput     = errors.New("request: invalid input")
	ErrInvalidField     = errors.New("request: unrecognized field name")
	ErrEmptyReason      = errors.New("request: reason is required")
	ErrDuplicateRequest = errors.New("request: a pending request already exists for this field")
	// ErrRequestNotFound covers both "no such request" and "already
	// processed"; callers must not be able to tell them apart.
	ErrRequestNotFound = errors.New("request: not found or already processed")
	ErrNotApprover     = errors.New("request: role is not allowed to approve")
	ErrRateLimited     = errors.New("request: too many requests, slow down")
)

// FieldAccessRequest is the central entity of the lifecycle.
type FieldAccessRequest struct {
	ID              string     `json:"id"`
	Ref             string     `json:"request_ref"`
	RequesterID     string     `json:"requester_id"`
	AccountID       string     `json:"account_id"`
	Field           Field      `json:"field_name"`
	Reason          string     `json:"reason"`
	TicketReference string     `json:"ticket_reference,omitempty"`
	Status          Status     `json:"status"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ExpiresAt       *time.Time `json:"access_expires_at,omitempty"`
	DurationMinutes int        `json:"access_duration_minutes"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PendingSummary is the approver dashboard projection.
type PendingSummary struct {
	ID          string `json:"id"`
	Ref         string `json:"request_ref"`
	Requester   string `json:"requester"`
	BranchCode  string `json:"branch_code,omitempty"`
	Account     string `json:"account"`
	Field       Field  `json:"field_name"`
	Reason      string `json:"reason"`
	MinsWaiting int    `json:"mins_waiting"`
}

// EffectiveStatus derives the status visible to readers. Every read site,
// listings and the authorization check alike, must go through this one
// function so "expired" can never mean two different things.
func EffectiveStatus(stored Status, expiresAt *time.Time, now time.Time) Status {
	if stored == StatusApproved && expiresAt != nil && !expiresAt.After(now) {
		return StatusExpired
	}
	return stored
}

// GrantActive reports whether an approved request still grants access at
// the given instant. Expiry is strict: access at exactly the expiry moment
// is already gone.
func GrantActive(stored Status, expiresAt *time.Time, now time.Time) bool {
	return stored == StatusApproved && expiresAt != nil && expiresAt.After(now)
}
