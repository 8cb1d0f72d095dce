package request

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory is a Store backed by process memory. It carries the same
// atomicity guarantees as the SQL store (duplicate-PENDING rejection on
// submit, conditional transitions on approve/reject) under a single mutex
// and is used by tests and local development.
type InMemory struct {
	mu       sync.Mutex
	requests map[string]*FieldAccessRequest
	order    []string
	users    map[string]string // requester id -> display name, for dashboards
	branches map[string]string
	now      func() time.Time
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]*FieldAccessRequest),
		users:    make(map[string]string),
		branches: make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the store's wall clock, which feeds the waiting-time
// column of the pending dashboard.
func (m *InMemory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RegisterUser records dashboard metadata for a requester id.
func (m *InMemory) RegisterUser(id, fullName, branchCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = fullName
	m.branches[id] = branchCode
}

func (m *InMemory) Submit(_ context.Context, r *FieldAccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.Status == StatusPending &&
			existing.RequesterID == r.RequesterID &&
			existing.AccountID == r.AccountID &&
			existing.Field == r.Field {
			return ErrDuplicateRequest
		}
	}
	cp := *r
	m.requests[r.ID] = &cp
	m.order = append(m.order, r.ID)
	return nil
}

func (m *InMemory) Approve(_ context.Context, id, approverID string, reviewedAt, expiresAt time.Time, durationMinutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != StatusPending {
		return ErrRequestNotFound
	}
	r.Status = StatusApproved
	r.ReviewedBy = approverID
	r.ReviewedAt = &reviewedAt
	r.ExpiresAt = &expiresAt
	r.DurationMinutes = durationMinutes
	return nil
}

func (m *InMemory) Reject(_ context.Context, id, approverID string, reviewedAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != StatusPending {
		return ErrRequestNotFound
	}
	r.Status = StatusRejected
	r.ReviewedBy = approverID
	r.ReviewedAt = &reviewedAt
	r.RejectionReason = reason
	return nil
}

func (m *InMemory) ListByRequester(_ context.Context, requesterID string, limit int) ([]FieldAccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FieldAccessRequest
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.requests[m.order[i]]
		if r.RequesterID == requesterID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *InMemory) ListPending(_ context.Context, limit int) ([]PendingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var out []PendingSummary
	for _, id := range m.order {
		r := m.requests[id]
		if r.Status != StatusPending {
			continue
		}
		out = append(out, PendingSummary{
			ID:          r.ID,
			Ref:         r.Ref,
			Requester:   m.users[r.RequesterID],
			BranchCode:  m.branches[r.RequesterID],
			Account:     r.AccountID,
			Field:       r.Field,
			Reason:      r.Reason,
			MinsWaiting: int(now.Sub(r.CreatedAt).Minutes()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinsWaiting > out[j].MinsWaiting })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) HasActiveAccess(_ context.Context, userID, accountID string, field Field, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.RequesterID == userID && r.AccountID == accountID && r.Field == field &&
			GrantActive(r.Status, r.ExpiresAt, now) {
			return true, nil
		}
	}
	return false, nil
}

// Get returns a copy of a request by id, for tests.
func (m *InMemory) Get(id string) (FieldAccessRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return FieldAccessRequest{}, false
	}
	return *r, true
}
