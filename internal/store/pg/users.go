package pg

import (
	"context"
	"database/sql"
	"errors"

	"xplora.org/internal/auth"
)

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	var u auth.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		select id, employee_id, username, full_name, role, branch_code,
		       active, locked, failed_login_attempts, password_hash, created_at
		from users
		where username=$1
	`, username).Scan(&u.ID, &u.EmployeeID, &u.Username, &u.FullName, &role, &u.BranchCode,
		&u.Active, &u.Locked, &u.FailedLoginAttempts, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update users
		set failed_login_attempts = failed_login_attempts + 1
		where id=$1
		returning failed_login_attempts
	`, userID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrUserNotFound
	}
	return attempts, err
}

func (s *Store) Lock(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update users set locked=true where id=$1`, userID)
	return err
}

func (s *Store) ResetLoginFailures(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update users set failed_login_attempts=0, last_login_at=now() where id=$1
	`, userID)
	return err
}
