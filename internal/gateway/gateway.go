// Package gateway mediates every read of sensitive customer-account data.
// Callers never touch ciphertext or the cipher directly: a field read goes
// through the access-grant check, is decrypted only on a live grant, and is
// audited after the plaintext is produced. Denials are ordinary results,
// not errors, and come back masked.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"xplora.org/internal/audit"
	"xplora.org/internal/auth"
	"xplora.org/internal/obs"
	"xplora.org/internal/request"
)

var (
	ErrAccountNotFound = errors.New("gateway: account not found")
)

// Account is the non-sensitive projection of a customer account. Hint
// columns (last-four digits, masked email) are stored alongside the
// ciphertext at write time so listings never decrypt anything.
type Account struct {
	ID                 string    `json:"id"`
	HolderName         string    `json:"holder_name"`
	AccountNumberLast4 string    `json:"account_number_last4"`
	SSNLast4           string    `json:"ssn_last4"`
	EmailHint          string    `json:"email_hint"`
	PhoneLast4         string    `json:"phone_last4"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// AccountStore is the persistence surface for accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	// EncryptedField returns the stored ciphertext blob for one field.
	EncryptedField(ctx context.Context, accountID string, field request.Field) (string, error)
	SearchAccounts(ctx context.Context, query string, limit int) ([]Account, error)
}

// Authorizer answers whether a user holds a live grant for a field.
type Authorizer interface {
	HasActiveAccess(ctx context.Context, userID, accountID string, field request.Field, now time.Time) (bool, error)
}

// Decrypter recovers plaintext from a stored blob.
type Decrypter interface {
	Decrypt(ctx context.Context, blob string) (string, error)
}

// FieldValue is the result of a field read. When Granted is false the
// Value carries the masked rendering and no decryption was attempted.
type FieldValue struct {
	AccountID string        `json:"account_id"`
	Field     request.Field `json:"field_name"`
	Granted   bool          `json:"granted"`
	Value     string        `json:"value"`
}

// Gateway is the single chokepoint for sensitive field reads.
type Gateway struct {
	accounts AccountStore
	authz    Authorizer
	cipher   Decrypter
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New constructs a Gateway.
func New(accounts AccountStore, authz Authorizer, cipher Decrypter, recorder *audit.Recorder, opts ...Option) (*Gateway, error) {
	if accounts == nil || authz == nil || cipher == nil {
		return nil, errors.New("gateway: accounts, authorizer and cipher are required")
	}
	g := &Gateway{
		accounts: accounts,
		authz:    authz,
		cipher:   cipher,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ReadField resolves one sensitive field for the actor. The grant is
// always checked against the authoritative store at read time; an expired
// or absent grant yields a masked value with Granted=false. Plaintext is
// audited as viewed only after decryption succeeds.
func (g *Gateway) ReadField(ctx context.Context, actor auth.Actor, accountID, fieldName string) (FieldValue, error) {
	field, ok := request.ParseField(fieldName)
	if !ok {
		return FieldValue{}, request.ErrInvalidField
	}
	acct, err := g.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return FieldValue{}, err
	}

	now := g.now().UTC()
	granted, err := g.authz.HasActiveAccess(ctx, actor.ID, acct.ID, field, now)
	if err != nil {
		return FieldValue{}, err
	}
	if !granted {
		obs.AccessDenialsTotal.Inc()
		return FieldValue{
			AccountID: acct.ID,
			Field:     field,
			Granted:   false,
			Value:     g.maskedValue(acct, field),
		}, nil
	}

	blob, err := g.accounts.EncryptedField(ctx, acct.ID, field)
	if err != nil {
		return FieldValue{}, err
	}
	plaintext, err := g.cipher.Decrypt(ctx, blob)
	if err != nil {
		if ctx.Err() != nil {
			return FieldValue{}, ctx.Err()
		}
		return FieldValue{}, err
	}

	g.record(audit.Event{
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Type:          audit.EventFieldAccessView,
		Category:      audit.CategoryAccess,
		Success:       true,
		TableName:     "customer_accounts",
		RecordID:      acct.ID,
		Fields:        []string{string(field)},
	})
	obs.FieldReadsTotal.WithLabelValues(string(field)).Inc()

	return FieldValue{
		AccountID: acct.ID,
		Field:     field,
		Granted:   true,
		Value:     plaintext,
	}, nil
}

// GetAccount returns the non-sensitive account summary.
func (g *Gateway) GetAccount(ctx context.Context, accountID string) (Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Account{}, ErrAccountNotFound
	}
	return g.accounts.GetAccount(ctx, accountID)
}

// SearchAccounts finds accounts by holder name or hint columns. Results
// only ever carry masked data.
func (g *Gateway) SearchAccounts(ctx context.Context, query string, limit int) ([]Account, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return g.accounts.SearchAccounts(ctx, query, limit)
}

// maskedValue renders the denial placeholder from hint columns, falling
// back to the fixed mask shapes when no hint is stored.
func (g *Gateway) maskedValue(acct Account, field request.Field) string {
	switch field {
	case request.FieldAccountNumber:
		if acct.AccountNumberLast4 != "" {
			return strings.Repeat("*", 12) + acct.AccountNumberLast4
		}
	case request.FieldSSN:
		if acct.SSNLast4 != "" {
			return "***-**-" + acct.SSNLast4
		}
	case request.FieldEmail:
		if acct.EmailHint != "" {
			return acct.EmailHint
		}
	case request.FieldPhone:
		if acct.PhoneLast4 != "" {
			return "***-***-" + acct.PhoneLast4
		}
	case request.FieldBalance:
		return "$***,***.**"
	case request.FieldAddress:
		return "***"
	}
	return "****"
}

func (g *Gateway) record(e audit.Event) {
	if g.recorder != nil {
		g.recorder.Record(e)
	}
}
