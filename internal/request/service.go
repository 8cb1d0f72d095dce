package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"xplora.org/internal/audit"
	"xplora.org/internal/auth"
	"xplora.org/internal/ids"
	"xplora.org/internal/ratelimit"
)

const (
	defaultDurationMinutes = 30
	listLimit              = 100
)

// Store is the persistence surface of the lifecycle. Implementations must
// make Submit atomic with the duplicate-PENDING check and Approve/Reject a
// single conditional transition (the prior state must be exactly PENDING):
// two racing resolvers get exactly one winner, the loser ErrRequestNotFound.
type Store interface {
	Submit(ctx context.Context, r *FieldAccessRequest) error
	Approve(ctx context.Context, id, approverID string, reviewedAt, expiresAt time.Time, durationMinutes int) error
	Reject(ctx context.Context, id, approverID string, reviewedAt time.Time, reason string) error
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]FieldAccessRequest, error)
	ListPending(ctx context.Context, limit int) ([]PendingSummary, error)
	HasActiveAccess(ctx context.Context, userID, accountID string, field Field, now time.Time) (bool, error)
}

// Service drives the request lifecycle and the access-grant evaluation.
type Service struct {
	store     Store
	recorder  *audit.Recorder
	approvers auth.RoleSet
	limiter   ratelimit.Limiter
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithApproverRoles overrides the approver allow-list.
func WithApproverRoles(set auth.RoleSet) ServiceOption {
	return func(s *Service) {
		if len(set) > 0 {
			s.approvers = set
		}
	}
}

// WithLimiter installs the advisory submit rate limiter.
func WithLimiter(l ratelimit.Limiter) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("request: store is required")
	}
	s := &Service{
		store:     store,
		recorder:  recorder,
		approvers: auth.DefaultApproverRoles(),
		limiter:   ratelimit.Unlimited{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CanApprove reports whether the role is in the configured approver set.
func (s *Service) CanApprove(role auth.Role) bool {
	return s.approvers.Contains(role)
}

// Submit files a new PENDING request for the actor. At most one PENDING
// request may exist per (requester, account, field); the store enforces
// that atomically and a duplicate surfaces as ErrDuplicateRequest.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, accountID, fieldName, reason, ticketRef string) (FieldAccessRequest, error) {
	field, ok := ParseField(fieldName)
	if !ok {
		return FieldAccessRequest{}, ErrInvalidField
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return FieldAccessRequest{}, ErrEmptyReason
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || actor.ID == "" {
		return FieldAccessRequest{}, fmt.Errorf("%w: account and requester are required", ErrInvalidInput)
	}
	if !s.limiter.Allow("submit:" + actor.ID) {
		return FieldAccessRequest{}, ErrRateLimited
	}

	req := FieldAccessRequest{
		ID:              ids.New(),
		Ref:             ids.NewRef("FAR"),
		RequesterID:     actor.ID,
		AccountID:       accountID,
		Field:           field,
		Reason:          reason,
		TicketReference: strings.TrimSpace(ticketRef),
		Status:          StatusPending,
		DurationMinutes: defaultDurationMinutes,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Submit(ctx, &req); err != nil {
		return FieldAccessRequest{}, err
	}

	s.record(audit.Event{
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Type:          audit.EventFieldRequestSubmit,
		Category:      audit.CategoryAccessRequest,
		Success:       true,
		TableName:     "field_access_requests",
		RecordID:      req.ID,
		Fields:        []string{string(field)},
		Details: map[string]any{
			"account_id":       accountID,
			"ticket_reference": req.TicketReference,
		},
	})
	return req, nil
}

// Approve transitions a PENDING request to APPROVED, granting the requester
// access until now+duration. The approver identity always comes from the
// authenticated actor. A request that is missing or no longer PENDING
// surfaces as ErrRequestNotFound.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, requestID string, durationMinutes int) error {
	if !s.CanApprove(actor.Role) {
		return ErrNotApprover
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	if durationMinutes <= 0 {
		durationMinutes = defaultDurationMinutes
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(durationMinutes) * time.Minute)
	if err := s.store.Approve(ctx, requestID, actor.ID, now, expiresAt, durationMinutes); err != nil {
		return err
	}

	s.record(audit.Event{
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Type:          audit.EventFieldRequestApprove,
		Category:      audit.CategoryAccessRequest,
		Success:       true,
		TableName:     "field_access_requests",
		RecordID:      requestID,
		Details: map[string]any{
			"duration_minutes": durationMinutes,
			"expires_at":       expiresAt.Format(time.RFC3339),
		},
	})
	return nil
}

// Reject transitions a PENDING request to REJECTED with a reason. Mutually
// exclusive with Approve through the same conditional-transition guarantee.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, requestID, reason string) error {
	if !s.CanApprove(actor.Role) {
		return ErrNotApprover
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "No reason provided"
	}

	if err := s.store.Reject(ctx, requestID, actor.ID, s.now().UTC(), reason); err != nil {
		return err
	}

	s.record(audit.Event{
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Type:          audit.EventFieldRequestReject,
		Category:      audit.CategoryAccessRequest,
		Success:       true,
		TableName:     "field_access_requests",
		RecordID:      requestID,
		Details:       map[string]any{"reason": reason},
	})
	return nil
}

// ListMine returns the actor's own requests, newest first, with statuses
// normalized through the shared expiry derivation.
func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]FieldAccessRequest, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	reqs, err := s.store.ListByRequester(ctx, actor.ID, listLimit)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range reqs {
		reqs[i].Status = EffectiveStatus(reqs[i].Status, reqs[i].ExpiresAt, now)
	}
	return reqs, nil
}

// ListPending returns the approver dashboard, longest-waiting first.
func (s *Service) ListPending(ctx context.Context, actor auth.Actor) ([]PendingSummary, error) {
	if !s.CanApprove(actor.Role) {
		return nil, ErrNotApprover
	}
	return s.store.ListPending(ctx, listLimit)
}

// HasActiveAccess is the authorization predicate gating decryption: true
// iff an APPROVED request for the exact (user, account, field) triple has
// expiry strictly after now. Always evaluated against the authoritative
// store; grants decay by time alone, so nothing here may be cached.
func (s *Service) HasActiveAccess(ctx context.Context, userID, accountID string, field Field, now time.Time) (bool, error) {
	if userID == "" || accountID == "" {
		return false, nil
	}
	if _, ok := ParseField(string(field)); !ok {
		return false, ErrInvalidField
	}
	return s.store.HasActiveAccess(ctx, userID, accountID, field, now)
}

func (s *Service) record(e audit.Event) {
	if s.recorder != nil {
		s.recorder.Record(e)
	}
}
