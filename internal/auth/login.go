package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Lockout threshold: after this many failed attempts the account is locked
// until an administrator intervenes.
const maxFailedAttempts = 5

var (
	// ErrInvalidCredentials is returned for every login failure (wrong
	// password, unknown user, inactive or locked account) so the response
	// does not reveal which one applied.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrUserNotFound = errors.New("auth: user not found")
)

// User is an employee identity as stored by the user store. The core only
// reads identity and role; login bookkeeping mutates the rest.
type User struct {
	ID                  string
	EmployeeID          string
	Username            string
	FullName            string
	Role                Role
	BranchCode          string
	Active              bool
	Locked              bool
	FailedLoginAttempts int
	PasswordHash        string `json:"-"`
	CreatedAt           time.Time
}

// UserStore is the persistence surface the authenticator needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	// RecordLoginFailure increments the failed-attempt counter and returns
	// the new count.
	RecordLoginFailure(ctx context.Context, userID string) (int, error)
	Lock(ctx context.Context, userID string) error
	ResetLoginFailures(ctx context.Context, userID string) error
}

// Authenticator verifies employee credentials and issues session tokens.
type Authenticator struct {
	users      UserStore
	sessionTTL time.Duration
}

// NewAuthenticator builds an Authenticator over the given store.
func NewAuthenticator(users UserStore, sessionTTL time.Duration) (*Authenticator, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	return &Authenticator{users: users, sessionTTL: sessionTTL}, nil
}

// Login verifies the credentials and returns the user plus a signed session
// token. Inactive and locked users are rejected; failed attempts are counted
// and the account locks itself at the threshold; a successful login resets
// the counter.
func (a *Authenticator) Login(ctx context.Context, username, password string) (User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, "", ErrInvalidCredentials
	}

	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, "", ErrInvalidCredentials
		}
		return User{}, "", err
	}

	if !user.Active || user.Locked {
		return User{}, "", ErrInvalidCredentials
	}
	if user.FailedLoginAttempts >= maxFailedAttempts {
		_ = a.users.Lock(ctx, user.ID)
		return User{}, "", ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return User{}, "", ErrInvalidCredentials
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		attempts, recErr := a.users.RecordLoginFailure(ctx, user.ID)
		if recErr == nil && attempts >= maxFailedAttempts {
			_ = a.users.Lock(ctx, user.ID)
		}
		return User{}, "", ErrInvalidCredentials
	}

	if err := a.users.ResetLoginFailures(ctx, user.ID); err != nil {
		return User{}, "", err
	}

	token, err := GenerateToken(user.ID, user.Username, user.FullName, user.Role, a.sessionTTL)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}
