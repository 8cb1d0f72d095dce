package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xplora.org/internal/gateway"
	"xplora.org/internal/request"
)

// encryptedColumns maps a field name to its ciphertext column. Column
// names are never built from raw input; an unknown field stops here.
var encryptedColumns = map[request.Field]string{
	request.FieldAccountNumber: "account_number_encrypted",
	request.FieldSSN:           "ssn_encrypted",
	request.FieldBalance:       "balance_encrypted",
	request.FieldEmail:         "email_encrypted",
	request.FieldPhone:         "phone_encrypted",
	request.FieldAddress:       "address_encrypted",
}

func (s *Store) GetAccount(ctx context.Context, id string) (gateway.Account, error) {
	var a gateway.Account
	err := s.db.QueryRowContext(ctx, `
		select id, holder_name, account_number_last4, ssn_last4,
		       coalesce(email_hint,''), coalesce(phone_last4,''), status, created_at
		from customer_accounts
		where id=$1
	`, id).Scan(&a.ID, &a.HolderName, &a.AccountNumberLast4, &a.SSNLast4,
		&a.EmailHint, &a.PhoneLast4, &a.Status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Account{}, gateway.ErrAccountNotFound
	}
	if err != nil {
		return gateway.Account{}, err
	}
	return a, nil
}

func (s *Store) EncryptedField(ctx context.Context, accountID string, field request.Field) (string, error) {
	col, ok := encryptedColumns[field]
	if !ok {
		return "", request.ErrInvalidField
	}
	var blob string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select coalesce(%s,'') from customer_accounts where id=$1`, col),
		accountID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", gateway.ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return blob, nil
}

func (s *Store) SearchAccounts(ctx context.Context, query string, limit int) ([]gateway.Account, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, holder_name, account_number_last4, ssn_last4,
		       coalesce(email_hint,''), coalesce(phone_last4,''), status, created_at
		from customer_accounts
		where holder_name ilike '%' || $1 || '%'
		   or account_number_last4 = $1
		order by holder_name
		limit $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []gateway.Account
	for rows.Next() {
		var a gateway.Account
		if err := rows.Scan(&a.ID, &a.HolderName, &a.AccountNumberLast4, &a.SSNLast4,
			&a.EmailHint, &a.PhoneLast4, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
